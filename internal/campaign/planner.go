package campaign

// Iteration is one planned run configuration. A nil field means the
// corresponding parameter is left untouched for that run.
type Iteration struct {
	HV        *float64
	Threshold *float64
}

// Plan is the materialized sweep grid for one repeat, plus the repeat
// policy after normalization.
type Plan struct {
	Iterations []Iteration
	Repeats    int // >= 1, or -1 for unbounded
}

// Unbounded reports whether the plan repeats forever.
func (p Plan) Unbounded() bool { return p.Repeats < 0 }

// TotalRuns is the total number of planned runs, or -1 when unbounded.
func (p Plan) TotalRuns() int {
	if p.Unbounded() {
		return -1
	}
	return len(p.Iterations) * p.Repeats
}

// BuildPlan expands HV and threshold sequences into the full cartesian
// grid, HV outermost so each voltage is settled once and all thresholds
// are swept under it. Empty sequences contribute a single "unset" slot, so
// two empty sequences still yield one iteration.
func BuildPlan(hv, thresholds []float64, repeat int) Plan {
	outer := optional(hv)
	inner := optional(thresholds)

	iters := make([]Iteration, 0, len(outer)*len(inner))
	for _, h := range outer {
		for _, t := range inner {
			iters = append(iters, Iteration{HV: h, Threshold: t})
		}
	}
	return Plan{Iterations: iters, Repeats: normalizeRepeat(repeat)}
}

// optional lifts a sweep sequence into pointer slots, with a single nil
// slot standing in for an absent sequence.
func optional(vals []float64) []*float64 {
	if len(vals) == 0 {
		return []*float64{nil}
	}
	out := make([]*float64, len(vals))
	for i := range vals {
		v := vals[i]
		out[i] = &v
	}
	return out
}

func normalizeRepeat(repeat int) int {
	switch {
	case repeat < 0:
		return -1
	case repeat == 0:
		return 1
	default:
		return repeat
	}
}
