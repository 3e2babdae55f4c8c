package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// NumericFromDecimal converts a shopspring decimal into a pgtype.Numeric
// without going through a float.
func NumericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// DecimalFromNumeric converts a pgtype.Numeric back into a decimal. NULL and
// NaN values map to zero.
func DecimalFromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// UUIDValue parses a string UUID into pgtype.UUID.
func UUIDValue(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, err
	}
	var out pgtype.UUID
	out.Bytes = parsed
	out.Valid = true
	return out, nil
}

// UUIDString renders a pgtype.UUID as its canonical string, empty when NULL.
func UUIDString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

// NewUUID generates a random pgtype.UUID.
func NewUUID() pgtype.UUID {
	var out pgtype.UUID
	out.Bytes = uuid.New()
	out.Valid = true
	return out
}

// TextValue wraps a string into a pgtype.Text, NULL when empty.
func TextValue(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// TextString unwraps a pgtype.Text, empty string when NULL.
func TextString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// TimestamptzValue wraps a time.Time, NULL when zero.
func TimestamptzValue(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// DateValue wraps a time.Time into a pgtype.Date, NULL when zero.
func DateValue(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}
