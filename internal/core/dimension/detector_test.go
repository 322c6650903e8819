package dimension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetector_HasChanged(t *testing.T) {
	tracked := []string{"name", "address", "email"}
	current := Version{
		NaturalKey: "C1",
		Attributes: Attributes{
			"name":    Str("Ada"),
			"address": Str("A"),
			"email":   nil,
			"segment": Str("retail"),
		},
	}

	tests := []struct {
		name     string
		policy   Policy
		incoming Attributes
		want     bool
	}{
		{
			name:     "identical",
			incoming: Attributes{"name": Str("Ada"), "address": Str("A"), "email": nil},
			want:     false,
		},
		{
			name:     "tracked attribute changed",
			incoming: Attributes{"name": Str("Ada"), "address": Str("B"), "email": nil},
			want:     true,
		},
		{
			name:     "untracked attribute ignored",
			incoming: Attributes{"name": Str("Ada"), "address": Str("A"), "email": nil, "segment": Str("corporate")},
			want:     false,
		},
		{
			name:     "missing tracked attribute compares as null",
			incoming: Attributes{"name": Str("Ada"), "address": Str("A")},
			want:     false,
		},
		{
			name:     "null and empty are distinct by default",
			incoming: Attributes{"name": Str("Ada"), "address": Str("A"), "email": Str("")},
			want:     true,
		},
		{
			name:     "empty as null policy",
			policy:   Policy{EmptyAsNull: true},
			incoming: Attributes{"name": Str("Ada"), "address": Str("A"), "email": Str("")},
			want:     false,
		},
		{
			name:     "whitespace is significant by default",
			incoming: Attributes{"name": Str("Ada "), "address": Str("A"), "email": nil},
			want:     true,
		},
		{
			name:     "trim policy",
			policy:   Policy{TrimSpace: true},
			incoming: Attributes{"name": Str(" Ada "), "address": Str("A"), "email": nil},
			want:     false,
		},
		{
			name:     "trim plus empty as null",
			policy:   Policy{TrimSpace: true, EmptyAsNull: true},
			incoming: Attributes{"name": Str("Ada"), "address": Str("A"), "email": Str("   ")},
			want:     false,
		},
		{
			name:     "value to null is a change",
			incoming: Attributes{"name": nil, "address": Str("A"), "email": nil},
			want:     true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(tracked, tc.policy)
			require.Equal(t, tc.want, d.HasChanged(current, tc.incoming))
		})
	}
}

func TestDetector_Diff(t *testing.T) {
	d := NewDetector([]string{"name", "address", "email"}, Policy{})
	current := Version{Attributes: Attributes{"name": Str("Ada"), "address": Str("A"), "email": Str("a@x")}}

	diff := d.Diff(current, Attributes{"name": Str("Ada"), "address": Str("B"), "email": nil})
	require.Equal(t, []string{"address", "email"}, diff)

	require.Empty(t, d.Diff(current, current.Attributes))
}

func TestVersion_ContainsAndClosed(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVersion("C1", Attributes{"name": Str("Ada")}, from)

	require.True(t, v.IsCurrent)
	require.Equal(t, OpenValidTo, v.ValidTo)
	require.True(t, v.Contains(from))
	require.True(t, v.Contains(time.Date(2030, 6, 1, 15, 4, 5, 0, time.UTC)))
	require.False(t, v.Contains(from.AddDate(0, 0, -1)))

	next := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	closed := v.Closed(next)
	require.False(t, closed.IsCurrent)
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), closed.ValidTo)
	require.True(t, closed.Contains(closed.ValidTo))
	require.False(t, closed.Contains(next))

	// the original is untouched
	require.True(t, v.IsCurrent)
}

func TestAttributes_CloneDoesNotAlias(t *testing.T) {
	orig := Attributes{"name": Str("Ada"), "email": nil}
	c := orig.Clone()
	*c["name"] = "Grace"

	require.Equal(t, "Ada", *orig["name"])
	require.Nil(t, c["email"])
	require.Equal(t, []string{"email", "name"}, c.Names())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("2024-13-01")
	require.Error(t, err)
}
