package quality

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRule(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestFileSystemRuleRepository_Load(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "email.yaml", `
name: email_not_null
target: snapshot
kind: not_null
field: email
`)
	writeRule(t, dir, "segment.yml", `
name: segment_allowed
target: snapshot
kind: allowed_values
field: segment
values: [retail, corporate]
severity: warning
`)
	writeRule(t, dir, "README.md", "not a rule")
	writeRule(t, dir, "empty.yaml", "# placeholder\n")

	repo, err := NewFileSystemRuleRepository(dir)
	require.NoError(t, err)

	rules := repo.Rules()
	require.Len(t, rules, 2)
	require.Equal(t, "email_not_null", rules[0].Name)
	require.Equal(t, SeverityError, rules[0].Severity)
	require.Len(t, rules[0].Fingerprint, 64)
	require.Equal(t, SeverityWarning, rules[1].Severity)
	require.Equal(t, []string{"retail", "corporate"}, rules[1].Values)
}

func TestFileSystemRuleRepository_MissingDirIsEmpty(t *testing.T) {
	repo, err := NewFileSystemRuleRepository(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, repo.Rules())
}

func TestFileSystemRuleRepository_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name: "unknown kind",
			files: map[string]string{"a.yaml": `
name: a
target: snapshot
kind: regex
field: email
`},
			wantErr: `unsupported kind "regex"`,
		},
		{
			name: "unknown target",
			files: map[string]string{"a.yaml": `
name: a
target: orders
kind: not_null
field: email
`},
			wantErr: `unsupported target "orders"`,
		},
		{
			name: "allowed values without values",
			files: map[string]string{"a.yaml": `
name: a
target: snapshot
kind: allowed_values
field: segment
`},
			wantErr: "needs at least one value",
		},
		{
			name: "duplicate names",
			files: map[string]string{
				"a.yaml": "name: dup\ntarget: snapshot\nkind: not_null\nfield: email\n",
				"b.yaml": "name: dup\ntarget: snapshot\nkind: not_null\nfield: name\n",
			},
			wantErr: "duplicate rule name",
		},
		{
			name:    "malformed yaml",
			files:   map[string]string{"a.yaml": "name: [unclosed"},
			wantErr: "parsing rule file",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tc.files {
				writeRule(t, dir, name, body)
			}
			_, err := NewFileSystemRuleRepository(dir)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
