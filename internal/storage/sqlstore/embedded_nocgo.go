//go:build !cgo

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
)

var errNoCGO = errors.New("embedded dolt requires a binary built with CGO_ENABLED=1; set db.dsn to use a dolt sql-server instead")

func openEmbeddedDolt(_ context.Context, _ Config) (*sql.DB, func() error, error) {
	return nil, nil, errNoCGO
}
