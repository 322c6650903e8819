package quality

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/dimledger/internal/core/batch"
	"github.com/aevon-lab/dimledger/internal/core/fact"
)

// Well-known field names. Any other snapshot field addresses an attribute.
const (
	FieldNaturalKey = "natural_key"
	FieldID         = "id"
	FieldCategory   = "category"
	FieldAmount     = "amount"
	FieldDiscount   = "discount"
	FieldQuantity   = "quantity"
)

// maxSamples bounds the offending values listed per diagnostic.
const maxSamples = 5

// ErrGateFailed is returned when a batch violates an error-severity rule.
var ErrGateFailed = errors.New("data quality gate failed")

// Status of a gate evaluation.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Diagnostic describes the violations of one rule.
type Diagnostic struct {
	Rule     string   `json:"rule"`
	Field    string   `json:"field"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	Count    int      `json:"count"`
	Samples  []string `json:"samples,omitempty"`
}

// Report is the outcome of running the gate over one batch.
type Report struct {
	Status      Status       `json:"status"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Passed reports whether no error-severity rule was violated.
func (r Report) Passed() bool {
	return r.Status == StatusPass
}

// Err returns nil for a passing report, otherwise an error wrapping ErrGateFailed
// that names each failed rule.
func (r Report) Err() error {
	if r.Passed() {
		return nil
	}
	var failed []string
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			failed = append(failed, fmt.Sprintf("%s (%d)", d.Rule, d.Count))
		}
	}
	return fmt.Errorf("%w: %s", ErrGateFailed, strings.Join(failed, ", "))
}

// Messages flattens the diagnostics for run logs.
func (r Report) Messages() []string {
	out := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		out = append(out, fmt.Sprintf("%s[%s]: %s", d.Rule, d.Severity, d.Message))
	}
	return out
}

// Gate evaluates rules against batches. It never mutates a batch.
type Gate struct {
	snapshot     []Rule
	transactions []Rule
}

// NewGate builds a gate from the built-in rules plus rules.
func NewGate(rules []Rule) *Gate {
	g := &Gate{}
	for _, r := range append(BuiltinRules(), rules...) {
		if r.Severity == "" {
			r.Severity = SeverityError
		}
		switch r.Target {
		case TargetSnapshot:
			g.snapshot = append(g.snapshot, r)
		case TargetTransactions:
			g.transactions = append(g.transactions, r)
		}
	}
	return g
}

// RuleCount returns the number of rules per target, built-ins included.
func (g *Gate) RuleCount() (snapshot, transactions int) {
	return len(g.snapshot), len(g.transactions)
}

// CheckSnapshot evaluates every snapshot rule.
func (g *Gate) CheckSnapshot(s batch.Snapshot) Report {
	values := func(field string) []*string {
		out := make([]*string, len(s.Rows))
		for i, row := range s.Rows {
			if field == FieldNaturalKey {
				k := string(row.NaturalKey)
				out[i] = &k
				continue
			}
			out[i] = row.Attributes[field]
		}
		return out
	}
	return evaluate(g.snapshot, values)
}

// CheckTransactions evaluates every transactions rule.
func (g *Gate) CheckTransactions(t batch.Transactions) Report {
	values := func(field string) []*string {
		out := make([]*string, len(t.Rows))
		for i, row := range t.Rows {
			out[i] = transactionField(row, field)
		}
		return out
	}
	return evaluate(g.transactions, values)
}

func transactionField(t fact.Transaction, field string) *string {
	var s string
	switch field {
	case FieldNaturalKey:
		s = string(t.NaturalKey)
	case FieldID:
		s = t.ID
	case FieldCategory:
		s = t.Category
	case FieldAmount:
		s = t.Amount.String()
	case FieldDiscount:
		s = t.Discount.String()
	case FieldQuantity:
		s = t.Quantity.String()
	default:
		return nil
	}
	return &s
}

func evaluate(rules []Rule, values func(field string) []*string) Report {
	report := Report{Status: StatusPass}
	for _, rule := range rules {
		count, samples := check(rule, values(rule.Field))
		if count == 0 {
			continue
		}
		report.Diagnostics = append(report.Diagnostics, Diagnostic{
			Rule:     rule.Name,
			Field:    rule.Field,
			Severity: rule.Severity,
			Message:  describe(rule, count),
			Count:    count,
			Samples:  samples,
		})
		if rule.Severity != SeverityWarning {
			report.Status = StatusFail
		}
	}
	return report
}

// check returns the number of violating rows and a few sample values.
func check(rule Rule, values []*string) (int, []string) {
	var (
		count   int
		samples []string
	)
	flag := func(v *string) {
		count++
		if len(samples) >= maxSamples {
			return
		}
		if v == nil {
			samples = append(samples, "<null>")
			return
		}
		samples = append(samples, *v)
	}

	switch rule.Kind {
	case KindUnique:
		seen := make(map[string]int, len(values))
		for _, v := range values {
			if v == nil {
				continue
			}
			seen[*v]++
			if seen[*v] == 2 {
				flag(v)
			}
		}
		return count, samples
	case KindAllowedValues:
		allowed := make(map[string]bool, len(rule.Values))
		for _, a := range rule.Values {
			allowed[a] = true
		}
		for _, v := range values {
			if v != nil && !allowed[*v] {
				flag(v)
			}
		}
		return count, samples
	}

	for _, v := range values {
		switch rule.Kind {
		case KindNotNull:
			if v == nil {
				flag(v)
			}
		case KindNotEmpty:
			if v == nil || strings.TrimSpace(*v) == "" {
				flag(v)
			}
		case KindNonNegative:
			if v == nil {
				continue
			}
			d, err := decimal.NewFromString(*v)
			if err != nil || d.IsNegative() {
				flag(v)
			}
		case KindMaxLength:
			if v != nil && utf8.RuneCountInString(*v) > rule.MaxLength {
				flag(v)
			}
		}
	}
	return count, samples
}

func describe(rule Rule, count int) string {
	switch rule.Kind {
	case KindNotNull:
		return fmt.Sprintf("%d row(s) with null %s", count, rule.Field)
	case KindNotEmpty:
		return fmt.Sprintf("%d row(s) with null or empty %s", count, rule.Field)
	case KindUnique:
		return fmt.Sprintf("%d duplicated value(s) of %s", count, rule.Field)
	case KindNonNegative:
		return fmt.Sprintf("%d row(s) with negative or non-numeric %s", count, rule.Field)
	case KindAllowedValues:
		return fmt.Sprintf("%d row(s) with %s outside [%s]", count, rule.Field, strings.Join(rule.Values, ", "))
	case KindMaxLength:
		return fmt.Sprintf("%d row(s) with %s longer than %d", count, rule.Field, rule.MaxLength)
	}
	return fmt.Sprintf("%d violation(s)", count)
}
