package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Copier is satisfied by Pool and pgx.Tx.
type Copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// CopyRows streams items into table with the COPY protocol. row maps one item
// to its column values and may fail, which aborts the copy.
func CopyRows[T any](ctx context.Context, c Copier, table string, columns []string, items []T, row func(T) ([]any, error)) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
		vals, err := row(items[i])
		if err != nil {
			return nil, eris.Wrapf(err, "db: encode %s row %d", table, i)
		}
		if len(vals) != len(columns) {
			return nil, eris.Errorf("db: %s row %d has %d values for %d columns", table, i, len(vals), len(columns))
		}
		return vals, nil
	})
	n, err := c.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}
	return n, nil
}
