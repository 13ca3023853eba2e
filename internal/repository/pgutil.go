package repository

import (
	"errors"
	"fmt"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const uniqueViolation = "23505"

// mapWriteErr turns a unique violation into CONSTRAINT_CONFLICT and wraps
// everything else.
func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrConstraintConflict(fmt.Sprintf("%s: %s", op, pgErr.ConstraintName), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// cents scans a numeric(15,0) column into an int64 amount.
type cents struct{ dst *int64 }

func money(dst *int64) *cents { return &cents{dst: dst} }

func (c *cents) ScanNumeric(v pgtype.Numeric) error {
	n, err := infra.NumericToInt64(v)
	if err != nil {
		return err
	}
	*c.dst = n
	return nil
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
