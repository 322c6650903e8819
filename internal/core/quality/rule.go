package quality

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule kinds.
const (
	KindNotNull       = "not_null"
	KindNotEmpty      = "not_empty"
	KindUnique        = "unique"
	KindNonNegative   = "non_negative"
	KindAllowedValues = "allowed_values"
	KindMaxLength     = "max_length"
)

// Rule targets.
const (
	TargetSnapshot     = "snapshot"
	TargetTransactions = "transactions"
)

// Severities. An error-severity violation fails the batch; a warning is only reported.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

var validKinds = map[string]bool{
	KindNotNull:       true,
	KindNotEmpty:      true,
	KindUnique:        true,
	KindNonNegative:   true,
	KindAllowedValues: true,
	KindMaxLength:     true,
}

// Rule is one declarative data quality check on one field of a batch.
type Rule struct {
	Name        string   `yaml:"name"`
	Target      string   `yaml:"target"`
	Kind        string   `yaml:"kind"`
	Field       string   `yaml:"field"`
	Values      []string `yaml:"values"`     // allowed_values only
	MaxLength   int      `yaml:"max_length"` // max_length only
	Severity    string   `yaml:"severity"`
	Fingerprint string   `yaml:"-"` // SHA-256 of the rule file; empty for built-in rules
}

// Validate checks a rule is complete and applies defaults.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if r.Target != TargetSnapshot && r.Target != TargetTransactions {
		return fmt.Errorf("rule %q: unsupported target %q (must be snapshot or transactions)", r.Name, r.Target)
	}
	if !validKinds[r.Kind] {
		return fmt.Errorf("rule %q: unsupported kind %q", r.Name, r.Kind)
	}
	if strings.TrimSpace(r.Field) == "" {
		return fmt.Errorf("rule %q: field must not be empty", r.Name)
	}
	if r.Kind == KindAllowedValues && len(r.Values) == 0 {
		return fmt.Errorf("rule %q: allowed_values needs at least one value", r.Name)
	}
	if r.Kind == KindMaxLength && r.MaxLength <= 0 {
		return fmt.Errorf("rule %q: max_length must be > 0", r.Name)
	}
	switch r.Severity {
	case "":
		r.Severity = SeverityError
	case SeverityError, SeverityWarning:
	default:
		return fmt.Errorf("rule %q: unsupported severity %q", r.Name, r.Severity)
	}
	return nil
}

// BuiltinRules always run: every row needs a natural key.
func BuiltinRules() []Rule {
	return []Rule{
		{Name: "builtin_snapshot_natural_key", Target: TargetSnapshot, Kind: KindNotEmpty, Field: FieldNaturalKey, Severity: SeverityError},
		{Name: "builtin_transactions_natural_key", Target: TargetTransactions, Kind: KindNotEmpty, Field: FieldNaturalKey, Severity: SeverityError},
	}
}

// FileSystemRuleRepository loads rules from *.yaml files in a directory, one rule per
// file. Rules are loaded once and cached in memory.
type FileSystemRuleRepository struct {
	dir   string
	rules map[string]Rule // keyed by Name
}

// NewFileSystemRuleRepository eagerly loads every rule in dir. A missing directory
// means zero rules; a malformed or duplicate rule is an error.
func NewFileSystemRuleRepository(dir string) (*FileSystemRuleRepository, error) {
	repo := &FileSystemRuleRepository{
		dir:   dir,
		rules: make(map[string]Rule),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRuleRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("quality rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("quality rule path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading quality rule dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var rule Rule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if rule.Name == "" {
			continue // comment-only file
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule file %s: %w", path, err)
		}
		if _, exists := r.rules[rule.Name]; exists {
			return fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", rule.Name)
		}

		rule.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
		r.rules[rule.Name] = rule
	}
	return nil
}

// Rules returns the loaded rules ordered by name.
func (r *FileSystemRuleRepository) Rules() []Rule {
	rules := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}
