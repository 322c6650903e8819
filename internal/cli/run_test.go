package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/dimledger/internal/pipeline"
)

const testSnapshot = `kind: snapshot
business_date: 2024-03-01
rows:
  - customer_id: C1
    name: Ada
    address: 1 Main St
  - customer_id: C2
    name: Grace
    address: 9 Elm St
`

const testTransactions = `kind: transactions
business_date: 2024-03-01
rows:
  - id: t1
    customer_id: C1
    category: hotel
    amount: 100
    discount: 10
    quantity: 1
  - id: t2
    customer_id: C1
    category: hotel
    amount: 50
  - id: t3
    customer_id: C9
    category: flight
    amount: 20
`

// writeWorkspace writes a memory-backed config and returns its path.
func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	rulesDir := filepath.Join(dir, "quality")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "amount.yaml"), []byte(`name: amount_non_negative
target: transactions
kind: non_negative
field: amount
`), 0o644))

	cfg := `database:
  type: memory
dimension:
  natural_key_field: customer_id
  tracked_attributes: [name, address]
quality:
  rules_dir: ` + rulesDir + `
`
	path := filepath.Join(dir, "dimledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommandEndToEnd(t *testing.T) {
	cfgPath := writeWorkspace(t)
	snap := writeFile(t, "customers.yaml", testSnapshot)
	txns := writeFile(t, "bookings.yaml", testTransactions)

	out, err := execute(t, "-c", cfgPath, "run", "--snapshot", snap, "--transactions", txns)
	require.NoError(t, err)

	var sum pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "success", sum.Status)
	assert.Equal(t, "2024-03-01", sum.BusinessDate)
	assert.Equal(t, 2, sum.VersionsCreated)
	assert.Equal(t, 0, sum.VersionsClosed)
	assert.Equal(t, 1, sum.FactRowsWritten)
	assert.Equal(t, 1, sum.OrphanCount)
	require.Len(t, sum.Runs, 2)
	assert.Equal(t, "merge", sum.Runs[0].Kind)
	assert.Equal(t, "aggregate", sum.Runs[1].Kind)
}

func TestRunCommandRejectsDuplicateKeys(t *testing.T) {
	cfgPath := writeWorkspace(t)
	snap := writeFile(t, "customers.yaml", `kind: snapshot
business_date: 2024-03-01
rows:
  - {customer_id: C1, name: Ada, address: 1 Main St}
  - {customer_id: C1, name: Ada, address: 2 Main St}
`)
	txns := writeFile(t, "bookings.yaml", testTransactions)

	out, err := execute(t, "-c", cfgPath, "run", "--snapshot", snap, "--transactions", txns)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var sum pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "rejected", sum.Status)
	assert.Equal(t, 0, sum.FactRowsWritten)
	require.Len(t, sum.Runs, 1, "aggregation is skipped after a rejected merge")
}

func TestMergeCommandPrintsResult(t *testing.T) {
	cfgPath := writeWorkspace(t)
	snap := writeFile(t, "customers.json", `{"kind": "snapshot", "business_date": "2024-03-01",
  "rows": [{"customer_id": "C1", "name": "Ada", "address": "1 Main St"}]}`)

	out, err := execute(t, "-c", cfgPath, "merge", snap)
	require.NoError(t, err)

	var res pipeline.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 1, res.RowsRead)
	assert.Equal(t, 1, res.VersionsCreated)
	assert.NotEmpty(t, res.RunID)
}

func TestAggregateCommandGateFailure(t *testing.T) {
	cfgPath := writeWorkspace(t)
	txns := writeFile(t, "bookings.yaml", `kind: transactions
business_date: 2024-03-01
rows:
  - {id: t1, customer_id: C1, category: hotel, amount: -5}
`)

	out, err := execute(t, "-c", cfgPath, "aggregate", txns)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res pipeline.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "rejected", res.Status)
	assert.NotEmpty(t, res.Diagnostics)
}

func TestCommandErrors(t *testing.T) {
	cfgPath := writeWorkspace(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing config file", []string{"-c", filepath.Join(t.TempDir(), "nope.yaml"), "merge", "x.yaml"}},
		{"unsupported batch extension", []string{"-c", cfgPath, "merge", writeFile(t, "customers.csv", "customer_id\nC1\n")}},
		{"missing batch file", []string{"-c", cfgPath, "aggregate", filepath.Join(t.TempDir(), "none.yaml")}},
		{"migrate on memory", []string{"-c", cfgPath, "migrate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
