package caen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		par  string
		val  *float64
		want string
	}{
		{
			name: "monitor without value",
			cmd:  "MON", par: "VMON",
			want: "$BD:00,CMD:MON,CH:1,PAR:VMON",
		},
		{
			name: "set with value",
			cmd:  "SET", par: "VSET", val: f(1800),
			want: "$BD:00,CMD:SET,CH:1,PAR:VSET,VAL:1800",
		},
		{
			name: "fractional value",
			cmd:  "SET", par: "VSET", val: f(1799.5),
			want: "$BD:00,CMD:SET,CH:1,PAR:VSET,VAL:1799.5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildCommand("00", "1", tt.cmd, tt.par, tt.val)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain value", "1800.2", "1800.2"},
		{"framed value", "#BD:00,CMD:OK,VAL:1800.2", "1800.2"},
		{"trailing newline", "#BD:00,CMD:OK,VAL:1795\r\n", "1795"},
		{"multiline keeps first line", "VMON: 1795\nnoise", "1795"},
		{"empty", "", ""},
		{"whitespace only", "  \r\n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseResponse(tt.raw))
		})
	}
}

func f(v float64) *float64 { return &v }
