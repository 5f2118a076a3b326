// Package decimal provides the exact decimal type used for prices and
// quantities.
package decimal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5/pgtype"
)

// Decimal is an arbitrary precision decimal number. The zero value is 0.
// A Decimal scanned from SQL NULL is null and marshals as JSON null.
type Decimal struct {
	value apd.Decimal
	null  bool
}

func arith() *apd.Context {
	return apd.BaseContext.WithPrecision(34)
}

// New parses s as a decimal number.
func New(s string) (Decimal, error) {
	var d apd.Decimal
	_, _, err := d.SetString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal: %w", err)
	}
	if d.Form != apd.Finite {
		return Decimal{}, fmt.Errorf("invalid decimal: %q is not finite", s)
	}
	return Decimal{value: d}, nil
}

// MustNew is like New but panics on malformed input. Intended for constants.
func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt64 returns i as a Decimal.
func FromInt64(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

// Null returns a null Decimal.
func Null() Decimal {
	return Decimal{null: true}
}

// IsNull reports whether d came from SQL NULL.
func (d Decimal) IsNull() bool {
	return d.null
}

func (d Decimal) String() string {
	if d.null {
		return "null"
	}
	return d.value.Text('f')
}

func (d Decimal) IsZero() bool {
	return !d.null && d.value.IsZero()
}

func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

// Add returns the sum of d and other. Null propagates.
func (d Decimal) Add(other Decimal) Decimal {
	if d.null || other.null {
		return Null()
	}
	var result apd.Decimal
	arith().Add(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Mul returns the product of d and other. Null propagates.
func (d Decimal) Mul(other Decimal) Decimal {
	if d.null || other.null {
		return Null()
	}
	var result apd.Decimal
	arith().Mul(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Div returns the quotient of d divided by other. Division by zero and
// null operands yield null.
func (d Decimal) Div(other Decimal) Decimal {
	if d.null || other.null || other.value.IsZero() {
		return Null()
	}
	var result apd.Decimal
	arith().Quo(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Ceil returns the smallest integer value not less than d.
func (d Decimal) Ceil() Decimal {
	if d.null {
		return d
	}
	var result apd.Decimal
	arith().Ceil(&result, &d.value)
	return Decimal{value: result}
}

// MarshalJSON renders the value as a JSON number without exponent.
func (d Decimal) MarshalJSON() ([]byte, error) {
	if d.null {
		return []byte("null"), nil
	}
	return []byte(d.value.Text('f')), nil
}

// UnmarshalJSON accepts a JSON number, a numeric string or null.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = Null()
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := New(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ScanText implements pgtype.TextScanner so sums cast to text scan exactly.
func (d *Decimal) ScanText(v pgtype.Text) error {
	if !v.Valid {
		*d = Null()
		return nil
	}
	parsed, err := New(v.String)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Numeric converts d for binary transfer to a NUMERIC column.
func (d Decimal) Numeric() pgtype.Numeric {
	if d.null {
		return pgtype.Numeric{}
	}
	i := new(big.Int).Set(d.value.Coeff.MathBigInt())
	if d.value.Negative {
		i.Neg(i)
	}
	return pgtype.Numeric{Int: i, Exp: d.value.Exponent, Valid: true}
}
