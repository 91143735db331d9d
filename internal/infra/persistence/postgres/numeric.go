package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts an optional decimal into a pgtype.Numeric. Nil maps to NULL.
func numericFromDecimal(value *decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if value == nil {
		return out, nil
	}
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}

func numericFromNull(value decimal.NullDecimal) (pgtype.Numeric, error) {
	if !value.Valid {
		return pgtype.Numeric{}, nil
	}
	return numericFromDecimal(&value.Decimal)
}

// decimalFromText parses a numeric column selected as text.
func decimalFromText(value pgtype.Text) (decimal.NullDecimal, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return decimal.NullDecimal{}, nil
	}
	parsed, err := decimal.NewFromString(value.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse numeric %q: %w", value.String, err)
	}
	return decimal.NewNullDecimal(parsed), nil
}

func timeFromTimestamptz(value pgtype.Timestamptz) *time.Time {
	if !value.Valid {
		return nil
	}
	ts := value.Time.UTC()
	return &ts
}
