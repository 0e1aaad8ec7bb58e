package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional write matched no row because the
	// guarded state had already changed.
	ErrConflict = errors.New("record changed concurrently")
)

func mapNoRows(err error, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}
