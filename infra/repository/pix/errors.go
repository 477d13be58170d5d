package pixrepo

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// MapGormErrorToDomain converts GORM and driver errors to domain errors.
// Unknown errors are returned unchanged.
func MapGormErrorToDomain(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrDuplicateTxid
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		return domain.ErrDuplicateTxid
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case isUnavailable(err):
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return err
}

func isUnavailable(err error) bool {
	var netErr net.Error
	var connErr *pgconn.ConnectError
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &connErr) ||
		errors.As(err, &netErr) ||
		pgconn.Timeout(err)
}

// WrapError runs a GORM operation and maps its error.
//
//	err := WrapError(func() error {
//	    return r.db.WithContext(ctx).Create(m).Error
//	})
func WrapError(op func() error) error {
	return MapGormErrorToDomain(op())
}
