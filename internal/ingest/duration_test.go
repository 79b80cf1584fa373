package ingest

import (
	"math"
	"testing"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"0小时43分53秒", 43 + 53.0/60, true},
		{"2小时0分30秒", 120.5, true},
		{"43分53秒", 43 + 53.0/60, true},
		{"1:30:45", 90.75, true},
		{"90:30", 90.5, true},
		{"90分", 90, true},
		{"90分钟", 90, true},
		{"90", 90, true},
		{" 45 ", 45, true},
		{"45.5", 45.5, true},
		{"", 0, false},
		{"   ", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, ok := ParseDuration(c.in)
			if ok != c.ok {
				t.Fatalf("ParseDuration(%q) ok=%v, want %v", c.in, ok, c.ok)
			}
			if ok && math.Abs(got-c.want) > 1e-9 {
				t.Fatalf("ParseDuration(%q)=%v, want %v", c.in, got, c.want)
			}
		})
	}
}

// "1:30:45" не должен читаться как M:S (1 мин 30 сек).
func TestParseDuration_HMSBeforeMS(t *testing.T) {
	got, _ := ParseDuration("1:30:45")
	if got < 90 {
		t.Fatalf("H:M:S parsed as M:S: %v", got)
	}
}
