package ingestion

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/dimledger/internal/core/batch"
	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
)

// Batch kinds accepted in the file envelope.
const (
	KindSnapshot     = "snapshot"
	KindTransactions = "transactions"
)

// Transaction field names besides the configurable natural key and category.
const (
	FieldID       = "id"
	FieldAmount   = "amount"
	FieldDiscount = "discount"
	FieldQuantity = "quantity"
)

var ErrMalformedBatch = errors.New("malformed batch")

// envelope is the on-disk shape of a batch file. JSON files decode through the
// same path since YAML is a superset of JSON. Row values stay as nodes so the
// scalar text reaches change detection exactly as written.
type envelope struct {
	Kind         string                 `yaml:"kind"`
	BusinessDate string                 `yaml:"business_date"`
	Rows         []map[string]yaml.Node `yaml:"rows"`
}

// Decoder turns batch files into core batches.
type Decoder struct {
	SnapshotKeyField    string
	TransactionKeyField string
	CategoryField       string
}

// NewDecoder returns a decoder using the configured field names.
func NewDecoder(snapshotKeyField, transactionKeyField, categoryField string) *Decoder {
	return &Decoder{
		SnapshotKeyField:    snapshotKeyField,
		TransactionKeyField: transactionKeyField,
		CategoryField:       categoryField,
	}
}

// ReadFile opens a batch file. Only .yaml, .yml and .json extensions are accepted.
func ReadFile(path string) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("batch file %s: unsupported extension (want .yaml, .yml or .json)", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	return f, nil
}

// LoadSnapshot reads a snapshot batch file.
func (d *Decoder) LoadSnapshot(path string) (batch.Snapshot, error) {
	f, err := ReadFile(path)
	if err != nil {
		return batch.Snapshot{}, err
	}
	defer f.Close()

	snap, err := d.DecodeSnapshot(f)
	if err != nil {
		return batch.Snapshot{}, fmt.Errorf("batch file %s: %w", path, err)
	}
	return snap, nil
}

// LoadTransactions reads a transactions batch file.
func (d *Decoder) LoadTransactions(path string) (batch.Transactions, error) {
	f, err := ReadFile(path)
	if err != nil {
		return batch.Transactions{}, err
	}
	defer f.Close()

	txns, err := d.DecodeTransactions(f)
	if err != nil {
		return batch.Transactions{}, fmt.Errorf("batch file %s: %w", path, err)
	}
	return txns, nil
}

// DecodeSnapshot decodes a snapshot envelope. Every field other than the natural
// key becomes an attribute; null values stay NULL.
func (d *Decoder) DecodeSnapshot(r io.Reader) (batch.Snapshot, error) {
	env, date, err := decodeEnvelope(r, KindSnapshot)
	if err != nil {
		return batch.Snapshot{}, err
	}

	snap := batch.Snapshot{BusinessDate: date, Rows: make([]batch.SnapshotRow, 0, len(env.Rows))}
	for i, raw := range env.Rows {
		key, err := naturalKey(raw, d.SnapshotKeyField)
		if err != nil {
			return batch.Snapshot{}, fmt.Errorf("%w: row %d: %v", ErrMalformedBatch, i, err)
		}

		attrs := make(dimension.Attributes, len(raw))
		for _, name := range sortedFields(raw) {
			if name == d.SnapshotKeyField {
				continue
			}
			v, err := field(raw, name)
			if err != nil {
				return batch.Snapshot{}, fmt.Errorf("%w: row %d field %q: %v", ErrMalformedBatch, i, name, err)
			}
			attrs[name] = v
		}
		snap.Rows = append(snap.Rows, batch.SnapshotRow{NaturalKey: key, Attributes: attrs})
	}
	return snap, nil
}

// DecodeTransactions decodes a transactions envelope. A row without its own
// business_date inherits the batch date. Measures are parsed as exact decimals;
// a missing discount is zero.
func (d *Decoder) DecodeTransactions(r io.Reader) (batch.Transactions, error) {
	env, date, err := decodeEnvelope(r, KindTransactions)
	if err != nil {
		return batch.Transactions{}, err
	}

	out := batch.Transactions{BusinessDate: date, Rows: make([]fact.Transaction, 0, len(env.Rows))}
	for i, raw := range env.Rows {
		t, err := d.transaction(raw, date)
		if err != nil {
			return batch.Transactions{}, fmt.Errorf("%w: row %d: %v", ErrMalformedBatch, i, err)
		}
		if t.ID == "" {
			t.ID = strconv.Itoa(i + 1)
		}
		out.Rows = append(out.Rows, t)
	}
	return out, nil
}

func (d *Decoder) transaction(raw map[string]yaml.Node, batchDate time.Time) (fact.Transaction, error) {
	key, err := naturalKey(raw, d.TransactionKeyField)
	if err != nil {
		return fact.Transaction{}, err
	}

	t := fact.Transaction{NaturalKey: key, BusinessDate: batchDate}

	if id, err := field(raw, FieldID); err != nil {
		return fact.Transaction{}, fmt.Errorf("field %q: %v", FieldID, err)
	} else if id != nil {
		t.ID = *id
	}

	category, err := field(raw, d.CategoryField)
	if err != nil || category == nil || *category == "" {
		return fact.Transaction{}, fmt.Errorf("missing category field %q", d.CategoryField)
	}
	t.Category = *category

	if s, err := field(raw, "business_date"); err != nil {
		return fact.Transaction{}, fmt.Errorf("invalid business_date: %v", err)
	} else if s != nil {
		if t.BusinessDate, err = dimension.ParseDate(*s); err != nil {
			return fact.Transaction{}, err
		}
	}

	amount, err := field(raw, FieldAmount)
	if err != nil {
		return fact.Transaction{}, fmt.Errorf("field %q: %v", FieldAmount, err)
	}
	if amount == nil {
		return fact.Transaction{}, fmt.Errorf("missing field %q", FieldAmount)
	}
	if t.Amount, err = fact.ParseDecimal(*amount); err != nil {
		return fact.Transaction{}, fmt.Errorf("field %q: %v", FieldAmount, err)
	}
	if t.Discount, err = optionalDecimal(raw, FieldDiscount); err != nil {
		return fact.Transaction{}, err
	}
	if t.Quantity, err = optionalDecimal(raw, FieldQuantity); err != nil {
		return fact.Transaction{}, err
	}
	return t, nil
}

func decodeEnvelope(r io.Reader, wantKind string) (envelope, time.Time, error) {
	var env envelope
	if err := yaml.NewDecoder(r).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return envelope{}, time.Time{}, fmt.Errorf("%w: empty document", ErrMalformedBatch)
		}
		return envelope{}, time.Time{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if env.Kind != wantKind {
		return envelope{}, time.Time{}, fmt.Errorf("%w: kind %q, expected %q", ErrMalformedBatch, env.Kind, wantKind)
	}
	date, err := dimension.ParseDate(env.BusinessDate)
	if err != nil {
		return envelope{}, time.Time{}, fmt.Errorf("%w: business_date: %v", ErrMalformedBatch, err)
	}
	return env, date, nil
}

func naturalKey(raw map[string]yaml.Node, name string) (dimension.NaturalKey, error) {
	v, err := field(raw, name)
	if err != nil {
		return "", fmt.Errorf("natural key field %q: %v", name, err)
	}
	if v == nil {
		return "", fmt.Errorf("missing natural key field %q", name)
	}
	return dimension.NaturalKey(*v), nil
}

// field returns the text of a scalar exactly as written in the file: 007 stays
// "007" and a 23 digit JSON number keeps every digit. A missing field or an
// explicit null is nil.
func field(raw map[string]yaml.Node, name string) (*string, error) {
	n, ok := raw[name]
	if !ok {
		return nil, nil
	}
	node := &n
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("expected a scalar value, got a %s", kindName(node.Kind))
	}
	if node.ShortTag() == "!!null" {
		return nil, nil
	}
	s := node.Value
	return &s, nil
}

// optionalDecimal parses a measure that defaults to zero when absent or null.
func optionalDecimal(raw map[string]yaml.Node, name string) (decimal.Decimal, error) {
	v, err := field(raw, name)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %v", name, err)
	}
	if v == nil {
		return decimal.Zero, nil
	}
	d, err := fact.ParseDecimal(*v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %v", name, err)
	}
	return d, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.DocumentNode:
		return "document"
	default:
		return "node"
	}
}

func sortedFields(raw map[string]yaml.Node) []string {
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
