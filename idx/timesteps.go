package idx

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// TimeRange is an inclusive range of integer timesteps.
type TimeRange struct {
	From, To, Step int
}

func (r TimeRange) Contains(t float64) bool {
	if t != math.Trunc(t) {
		return false
	}
	it := int(t)
	return r.From <= it && it <= r.To && (r.Step <= 1 || (it-r.From)%r.Step == 0)
}

// Timesteps is the set of timesteps stored in a dataset.
type Timesteps struct {
	ranges []TimeRange
}

// StarTimesteps returns the set used by "* *" descriptors where timesteps
// are not known in advance.
func StarTimesteps() Timesteps {
	return Timesteps{ranges: []TimeRange{{math.MinInt32, math.MaxInt32, 1}}}
}

// DefaultTimesteps contains the single timestep 0.
func DefaultTimesteps() Timesteps {
	return Timesteps{ranges: []TimeRange{{0, 0, 1}}}
}

func (ts *Timesteps) AddTimestep(t int) {
	ts.ranges = append(ts.ranges, TimeRange{t, t, 1})
}

func (ts *Timesteps) AddTimesteps(from, to, step int) {
	ts.ranges = append(ts.ranges, TimeRange{from, to, max(step, 1)})
}

func (ts Timesteps) Empty() bool {
	return len(ts.ranges) == 0
}

func (ts Timesteps) Ranges() []TimeRange {
	return ts.ranges
}

// IsStar returns true for the "* *" set.
func (ts Timesteps) IsStar() bool {
	return ts.Equal(StarTimesteps())
}

func (ts Timesteps) Equal(o Timesteps) bool {
	if len(ts.ranges) != len(o.ranges) {
		return false
	}
	for i := range ts.ranges {
		if ts.ranges[i] != o.ranges[i] {
			return false
		}
	}
	return true
}

// Contains returns true if t is one of the timesteps.
func (ts Timesteps) Contains(t float64) bool {
	for _, r := range ts.ranges {
		if r.Contains(t) {
			return true
		}
	}
	return false
}

// Default returns the first timestep, or 0 for empty and star sets.
func (ts Timesteps) Default() float64 {
	if ts.Empty() || ts.IsStar() {
		return 0
	}
	return float64(ts.ranges[0].From)
}

func (ts Timesteps) Min() int {
	if ts.Empty() {
		return 0
	}
	m := ts.ranges[0].From
	for _, r := range ts.ranges[1:] {
		m = min(m, r.From)
	}
	return m
}

func (ts Timesteps) Max() int {
	if ts.Empty() {
		return 0
	}
	m := ts.ranges[0].To
	for _, r := range ts.ranges[1:] {
		m = max(m, r.To)
	}
	return m
}

// Values returns the sorted distinct timesteps.  Star sets return only the default.
func (ts Timesteps) Values() []float64 {
	if ts.IsStar() {
		return []float64{0}
	}
	set := make(map[int]struct{})
	for _, r := range ts.ranges {
		for t := r.From; t <= r.To; t += max(r.Step, 1) {
			set[t] = struct{}{}
		}
	}
	out := make([]float64, 0, len(set))
	for t := range set {
		out = append(out, float64(t))
	}
	sort.Float64s(out)
	return out
}

// parseTime parses the value of a (time) descriptor entry into timesteps and
// the time template.
func parseTime(s string) (Timesteps, string, error) {
	v := strings.Fields(s)
	if len(v) < 2 {
		return Timesteps{}, "", fmt.Errorf("bad (time) %q", s)
	}
	var ts Timesteps
	if v[0] == "*" {
		if len(v) != 3 || v[1] != "*" {
			return ts, "", fmt.Errorf("bad (time) %q", s)
		}
		return StarTimesteps(), v[2], nil
	}
	if from, err := strconv.ParseFloat(v[0], 64); err == nil {
		if len(v) != 3 {
			return ts, "", fmt.Errorf("bad (time) %q", s)
		}
		to, err := strconv.ParseFloat(v[1], 64)
		if err != nil {
			return ts, "", fmt.Errorf("bad (time) %q: %v", s, err)
		}
		ts.AddTimesteps(int(from), int(to), 1)
		return ts, v[2], nil
	}
	for _, r := range v[1:] {
		if !strings.HasPrefix(r, "(") || !strings.HasSuffix(r, ")") {
			return ts, "", fmt.Errorf("bad (time) range %q", r)
		}
		parts := strings.Split(r[1:len(r)-1], ",")
		var vals []int
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return ts, "", fmt.Errorf("bad (time) range %q: %v", r, err)
			}
			vals = append(vals, int(f))
		}
		if len(vals) == 0 {
			vals = []int{0}
		}
		from, to, step := vals[0], vals[0], 1
		if len(vals) >= 2 {
			to = vals[1]
		}
		if len(vals) >= 3 {
			step = vals[2]
		}
		ts.AddTimesteps(from, to, step)
	}
	return ts, v[0], nil
}

// formatTime returns the value of a (time) descriptor entry.
func formatTime(ts Timesteps, template string) string {
	if ts.IsStar() {
		return "* * " + template
	}
	simple := Timesteps{}
	simple.AddTimesteps(ts.Min(), ts.Max(), 1)
	if ts.Equal(simple) {
		return fmt.Sprintf("%d %d %s", ts.Min(), ts.Max(), template)
	}
	parts := []string{template}
	for _, r := range ts.ranges {
		parts = append(parts, fmt.Sprintf("(%d,%d,%d)", r.From, r.To, r.Step))
	}
	return strings.Join(parts, " ")
}
