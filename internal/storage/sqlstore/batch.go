package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DefaultBatchSize is the maximum number of IDs per IN clause and of rows per
// multi-row INSERT.
const DefaultBatchSize = 500

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// batchIN executes a SELECT with an IN clause, splitting ids into chunks of
// batchSize. queryTemplate must contain exactly one %s placeholder for the IN
// clause; extra args are appended after the ids of every chunk.
//
// nolint:gosec // G201: queryTemplate %s is filled with ? placeholders only
func batchIN[V any](
	ctx context.Context,
	q querier,
	ids []string,
	batchSize int,
	queryTemplate string,
	extra []any,
	scanRow func(*sql.Rows) (V, error),
) ([]V, error) {
	var result []V
	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		batch := ids[i:end]

		args := make([]any, 0, len(batch)+len(extra))
		for _, id := range batch {
			args = append(args, id)
		}
		args = append(args, extra...)

		query := fmt.Sprintf(queryTemplate, placeholders(len(batch)))
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			v, scanErr := scanRow(rows)
			if scanErr != nil {
				rows.Close()
				return nil, scanErr
			}
			result = append(result, v)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return result, nil
}

// insertRows writes rows with multi-row INSERT statements of at most
// DefaultBatchSize rows. head is the statement up to and including VALUES.
func insertRows[R any](ctx context.Context, q querier, head string, columns int, rows []R, values func(R) []any) error {
	row := "(" + placeholders(columns) + ")"
	for i := 0; i < len(rows); i += DefaultBatchSize {
		end := min(i+DefaultBatchSize, len(rows))
		chunk := rows[i:end]

		tuples := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*columns)
		for j, r := range chunk {
			tuples[j] = row
			args = append(args, values(r)...)
		}
		if _, err := q.ExecContext(ctx, head+" "+strings.Join(tuples, ","), args...); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
