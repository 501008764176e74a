package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tejusbharadwaj/domotik/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	cursorName = "domotik_cursor"
)

type dialect struct {
	name       string
	driverName string
	txOptions  *sql.TxOptions
	rebind     func(string) string
	open       func(ctx context.Context, tx *sql.Tx, query string, args []any) (Cursor, error)
}

var placeholder = regexp.MustCompile(`\$\d+`)

// rebindQuestion turns $n placeholders into ?. Catalog templates number their
// parameters in order of appearance, so positions are preserved.
func rebindQuestion(query string) string {
	return placeholder.ReplaceAllString(query, "?")
}

func identity(query string) string { return query }

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case DriverSQLite, "":
		return &dialect{
			name:       DriverSQLite,
			driverName: "sqlite",
			rebind:     rebindQuestion,
			open:       openRowsCursor,
		}, nil
	case DriverPostgres:
		return &dialect{
			name:       DriverPostgres,
			driverName: "postgres",
			txOptions:  &sql.TxOptions{ReadOnly: true},
			rebind:     identity,
			open:       openDeclaredCursor,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", models.ErrConnection, driver)
	}
}

func openRowsCursor(ctx context.Context, tx *sql.Tx, query string, args []any) (Cursor, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &rowsCursor{tx: tx, rows: rows, cols: len(cols)}, nil
}

func openDeclaredCursor(ctx context.Context, tx *sql.Tx, query string, args []any) (Cursor, error) {
	stmt := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", cursorName, query)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, err
	}
	return &declaredCursor{tx: tx, name: cursorName}, nil
}
