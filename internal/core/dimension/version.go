package dimension

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar-date format used for business dates everywhere
// (batch files, query parameters, log fields).
const DateLayout = "2006-01-02"

// OpenValidTo is the valid_to sentinel carried by the current version of a key.
var OpenValidTo = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// NaturalKey is the business identifier of a dimension entity (e.g. a customer id).
type NaturalKey string

// SurrogateKey identifies one historical version. Zero means "not assigned yet".
type SurrogateKey int64

// Attributes maps attribute name to a nullable value. A nil pointer is SQL NULL,
// which is distinct from the empty string unless a Policy says otherwise.
type Attributes map[string]*string

// Names returns the attribute names in canonical (sorted) order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so stored versions never alias caller maps.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		if v == nil {
			out[k] = nil
			continue
		}
		s := *v
		out[k] = &s
	}
	return out
}

// Str is a convenience constructor for a non-null attribute value.
func Str(s string) *string {
	return &s
}

// Version is one historical record of a natural-key entity.
type Version struct {
	SurrogateKey SurrogateKey
	NaturalKey   NaturalKey
	Attributes   Attributes
	ValidFrom    time.Time // inclusive
	ValidTo      time.Time // inclusive; OpenValidTo while current
	IsCurrent    bool
}

// Contains reports whether date falls inside the inclusive validity window.
func (v Version) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(v.ValidFrom) && !d.After(v.ValidTo)
}

// Closed returns a copy of v with its window ended the day before next starts.
func (v Version) Closed(nextValidFrom time.Time) Version {
	c := v
	c.ValidTo = PrevDay(nextValidFrom)
	c.IsCurrent = false
	c.Attributes = v.Attributes.Clone()
	return c
}

func (v Version) String() string {
	return fmt.Sprintf("%s#%d[%s..%s]", v.NaturalKey, v.SurrogateKey,
		v.ValidFrom.Format(DateLayout), v.ValidTo.Format(DateLayout))
}

// NewVersion builds an open version starting at businessDate.
func NewVersion(key NaturalKey, attrs Attributes, businessDate time.Time) Version {
	return Version{
		NaturalKey: key,
		Attributes: attrs.Clone(),
		ValidFrom:  Day(businessDate),
		ValidTo:    OpenValidTo,
		IsCurrent:  true,
	}
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PrevDay returns the calendar date before t.
func PrevDay(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, -1)
}

// ParseDate parses a YYYY-MM-DD business date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid business date %q: %w", s, err)
	}
	return t, nil
}
