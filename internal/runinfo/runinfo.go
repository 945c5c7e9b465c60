// Package runinfo locates and annotates the run info files the
// acquisition program writes next to its data files. Each run produces a
// directory named after the start timestamp containing a
// "<timestamp>_run_info.txt" summary; this package finds the freshest one
// and stamps the experimental setup into it.
package runinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// infoSuffix is the run info file name suffix used by the acquisition
// program.
const infoSuffix = "_run_info.txt"

// tsLayout is the timestamp prefix on run directories and files.
const tsLayout = "2006-01-02_15-04-05"

// Setup describes the experimental arrangement recorded alongside each
// run.
type Setup struct {
	PMT          string `json:"pmt" yaml:"pmt"`
	PMTHV        string `json:"pmt_hv" yaml:"pmt_hv"`
	Source       string `json:"source" yaml:"source"`
	Scintillator string `json:"scintillator" yaml:"scintillator"`
}

func (s Setup) empty() bool {
	return s.PMT == "" && s.PMTHV == "" && s.Source == "" && s.Scintillator == ""
}

// FindLatest returns the newest run info file under dir. It looks in dir
// itself and one level of subdirectories, which covers both the run
// directory the child reports and the parent output directory. Files are
// ranked by their timestamp prefix, falling back to modification time for
// names without one.
func FindLatest(dir string) (string, error) {
	candidates, err := collect(dir)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("runinfo: no %s file under %s", infoSuffix, dir)
	}

	best := candidates[0]
	bestTime := rank(best)
	for _, c := range candidates[1:] {
		if t := rank(c); t.After(bestTime) {
			best, bestTime = c, t
		}
	}
	return best, nil
}

func collect(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("runinfo: read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			subEntries, err := os.ReadDir(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			for _, se := range subEntries {
				if !se.IsDir() && strings.HasSuffix(se.Name(), infoSuffix) {
					out = append(out, filepath.Join(dir, name, se.Name()))
				}
			}
		case strings.HasSuffix(name, infoSuffix):
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}

// rank orders a candidate by its timestamp prefix, with file mtime as the
// fallback.
func rank(path string) time.Time {
	base := filepath.Base(path)
	if len(base) >= len(tsLayout) {
		if t, err := time.ParseInLocation(tsLayout, base[:len(tsLayout)], time.Local); err == nil {
			return t
		}
	}
	if fi, err := os.Stat(path); err == nil {
		return fi.ModTime()
	}
	return time.Time{}
}

// setupMarker starts the annotation block. Its presence means the file was
// already annotated.
const setupMarker = "=== SETUP ==="

// PrependSetup writes the setup block at the top of the run info file,
// keeping the original content below it. Annotating twice is a no-op, as
// is an empty setup.
func PrependSetup(path string, setup Setup) error {
	if setup.empty() {
		return nil
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("runinfo: read %s: %w", path, err)
	}
	if strings.HasPrefix(string(original), setupMarker) {
		return nil
	}

	var b strings.Builder
	b.WriteString(setupMarker)
	b.WriteString("\n")
	writeField(&b, "PMT", setup.PMT)
	writeField(&b, "PMT_HV", setup.PMTHV)
	writeField(&b, "SOURCE", setup.Source)
	writeField(&b, "SCINTILATOR", setup.Scintillator)
	b.WriteString("=============\n\n")
	b.Write(original)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("runinfo: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("runinfo: replace %s: %w", path, err)
	}
	return nil
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}
