package mapper

import (
	"sort"
	"strings"
)

// Tally counts records best-matched per technique ID.
type Tally map[string]int

// TechniqueID extracts the ID from an "ID - Name" label.
func TechniqueID(label string) string {
	id, _, _ := strings.Cut(label, "-")
	return strings.TrimSpace(id)
}

// TallyMatches counts successful matches. Sentinel matches are skipped.
func TallyMatches(matches []Match) Tally {
	t := make(Tally)
	for _, m := range matches {
		if m.Failed() {
			continue
		}
		id := TechniqueID(m.Technique)
		if id == "" || id == SentinelNA || strings.Contains(id, ".") {
			continue
		}
		t[id]++
	}
	return t
}

// Max returns the largest count, zero when empty.
func (t Tally) Max() int {
	max := 0
	for _, n := range t {
		if n > max {
			max = n
		}
	}
	return max
}

// Total sums all counts.
func (t Tally) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

// IDs returns the technique IDs in sorted order.
func (t Tally) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TallyEntry is one technique count.
type TallyEntry struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// Ranked returns entries by descending count, ties by ID.
func (t Tally) Ranked() []TallyEntry {
	out := make([]TallyEntry, 0, len(t))
	for id, n := range t {
		out = append(out, TallyEntry{ID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restrict drops keys that are not techniques of tax and non-positive counts.
func (t Tally) Restrict(tax *Taxonomy) Tally {
	out := make(Tally, len(t))
	for id, n := range t {
		if n <= 0 {
			continue
		}
		if _, ok := tax.Technique(id); !ok {
			continue
		}
		out[id] = n
	}
	return out
}

// Coverage summarizes how much of the taxonomy a tally touches.
type Coverage struct {
	Covered int     `json:"covered"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// ComputeCoverage counts tally keys present in tax against its size.
func ComputeCoverage(t Tally, tax *Taxonomy) Coverage {
	c := Coverage{Total: tax.Len()}
	for id, n := range t {
		if n <= 0 {
			continue
		}
		if _, ok := tax.Technique(id); ok {
			c.Covered++
		}
	}
	if c.Total > 0 {
		c.Percent = float64(c.Covered) * 100 / float64(c.Total)
	}
	return c
}

// Uncovered returns the taxonomy's techniques absent from the tally, in
// taxonomy order.
func Uncovered(t Tally, tax *Taxonomy) []Technique {
	if tax == nil {
		return nil
	}
	var out []Technique
	for _, tech := range tax.Techniques {
		if t[tech.ID] == 0 {
			out = append(out, tech)
		}
	}
	return out
}
