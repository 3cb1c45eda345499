package db

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

var ten = big.NewInt(10)

// Numeric converts an amount to a NUMERIC(15,2) parameter.
func Numeric(m shared.Money) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(int64(m)), Exp: -2, Valid: true}
}

// Money converts a scanned NUMERIC to minor units, truncating beyond two
// decimals. NULL yields zero.
func Money(n pgtype.Numeric) (shared.Money, error) {
	if !n.Valid {
		return 0, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("platform/db: amount is not a finite number")
	}
	v := new(big.Int).Set(n.Int)
	exp := int64(n.Exp) + 2
	switch {
	case exp > 0:
		v.Mul(v, new(big.Int).Exp(ten, big.NewInt(exp), nil))
	case exp < 0:
		v.Quo(v, new(big.Int).Exp(ten, big.NewInt(-exp), nil))
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("platform/db: amount %s overflows", v)
	}
	return shared.Money(v.Int64()), nil
}
