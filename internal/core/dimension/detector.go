package dimension

import "strings"

// Policy controls value normalization before tracked attributes are compared.
// The zero Policy compares byte-exact and keeps NULL distinct from "".
type Policy struct {
	EmptyAsNull bool
	TrimSpace   bool
}

// Detector decides whether an incoming snapshot row changes a current version.
// Only Tracked attributes take part; the natural key is never compared.
type Detector struct {
	Tracked []string
	Policy  Policy
}

// NewDetector returns a detector over the given tracked attribute names.
func NewDetector(tracked []string, policy Policy) *Detector {
	t := make([]string, len(tracked))
	copy(t, tracked)
	return &Detector{Tracked: t, Policy: policy}
}

// HasChanged reports whether any tracked attribute differs. A tracked attribute
// missing from incoming compares as NULL.
func (d *Detector) HasChanged(current Version, incoming Attributes) bool {
	for _, name := range d.Tracked {
		if !d.equal(current.Attributes[name], incoming[name]) {
			return true
		}
	}
	return false
}

// Diff returns the tracked attribute names whose values differ, in tracked order.
func (d *Detector) Diff(current Version, incoming Attributes) []string {
	var changed []string
	for _, name := range d.Tracked {
		if !d.equal(current.Attributes[name], incoming[name]) {
			changed = append(changed, name)
		}
	}
	return changed
}

func (d *Detector) equal(a, b *string) bool {
	a, b = d.normalize(a), d.normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (d *Detector) normalize(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	if d.Policy.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if d.Policy.EmptyAsNull && s == "" {
		return nil
	}
	return &s
}
