package infra

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// NumericToInt64 reads a NUMERIC(15,0) minor-unit amount.
// Fractional cents are an error, not a rounding case.
func NumericToInt64(n pgtype.Numeric) (int64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("numeric value is NULL")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric value is not finite")
	}

	d := decimal.NewFromBigInt(n.Int, n.Exp)
	if !d.IsInteger() {
		return 0, fmt.Errorf("numeric value %s is not a whole minor-unit amount", d.String())
	}
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("numeric value %s overflows int64", bi.String())
	}
	return bi.Int64(), nil
}

// Int64ToNumeric encodes a minor-unit amount for a NUMERIC(15,0) column.
func Int64ToNumeric(v int64) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(v), InfinityModifier: pgtype.Finite, Valid: true}
}
