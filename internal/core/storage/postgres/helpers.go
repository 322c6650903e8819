package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/lib/pq"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
)

// pgUniqueViolation is the SQLSTATE of a unique index violation.
const pgUniqueViolation = "23505"

type scanner interface {
	Scan(dest ...interface{}) error
}

// marshalAttributes encodes attributes as a JSON object; NULL values stay JSON null.
func marshalAttributes(attrs dimension.Attributes) ([]byte, error) {
	if attrs == nil {
		attrs = dimension.Attributes{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return b, nil
}

// scanVersionRow scans one dim_customer row.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanVersionRow(row scanner) (dimension.Version, error) {
	var (
		v         dimension.Version
		attrsJSON []byte
	)
	if err := row.Scan(
		&v.SurrogateKey,
		&v.NaturalKey,
		&attrsJSON,
		&v.ValidFrom,
		&v.ValidTo,
		&v.IsCurrent,
	); err != nil {
		return dimension.Version{}, fmt.Errorf("failed to scan version row: %w", err)
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &v.Attributes); err != nil {
			return dimension.Version{}, fmt.Errorf("failed to unmarshal attributes of version %d: %w", v.SurrogateKey, err)
		}
	}
	v.ValidFrom = dimension.Day(v.ValidFrom)
	v.ValidTo = dimension.Day(v.ValidTo)
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// MaskDSN hides the password of a URL-style DSN for logging.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
