package repos

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateJob reports an insert that hit the one-job-per-resource
// unique index. Callers treat it as "already enqueued".
var ErrDuplicateJob = errors.New("index job already exists for resource")

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// sqlite (dev fallback) surfaces this only as message text.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
