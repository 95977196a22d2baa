package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Capabilities captures what the SQL backend can do for bulk index
// maintenance. Detected once per connection, never re-probed.
type Capabilities struct {
	// ReplaceInto: the backend has an atomic REPLACE INTO upsert.
	ReplaceInto bool
	// MultiValues: one INSERT may carry multiple VALUES tuples.
	MultiValues bool
}

// CapabilitiesFor maps a database/sql driver name to its capabilities.
func CapabilitiesFor(driver string) Capabilities {
	switch driver {
	case "mysql":
		return Capabilities{ReplaceInto: true, MultiValues: true}
	case "pgx", "postgres":
		return Capabilities{ReplaceInto: false, MultiValues: true}
	default:
		return Capabilities{}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// statement is one built SQL statement with its arguments, kept separate from
// execution so strategies can be unit-tested without a database.
type statement struct {
	query string
	args  []any
}

// rowReplacer replaces all rows of a table matching a key with a new row set.
// The two implementations cover the REPLACE-capable and the plain DELETE+
// INSERT backends.
type rowReplacer interface {
	replaceStatements(table string, cols []string, keyCol, key string, rows [][]any) []statement
}

func replacerFor(caps Capabilities) rowReplacer {
	if caps.ReplaceInto {
		return replaceIntoStrategy{}
	}
	return deleteInsertStrategy{multiValues: caps.MultiValues}
}

func runStatements(ctx context.Context, db execer, stmts []statement) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("index maintenance: %w", err)
		}
	}
	return nil
}

// replaceIntoStrategy issues a stale-row delete followed by one multi-row
// REPLACE INTO. REPLACE implies multi-values support on every backend that
// has it.
type replaceIntoStrategy struct{}

func (replaceIntoStrategy) replaceStatements(table string, cols []string, keyCol, key string, rows [][]any) []statement {
	stmts := []statement{{
		query: fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, keyCol),
		args:  []any{key},
	}}
	if len(rows) == 0 {
		return stmts
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	tuples := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		tuples[i] = tuple
		args = append(args, row...)
	}
	stmts = append(stmts, statement{
		query: fmt.Sprintf("REPLACE INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(tuples, ", ")),
		args:  args,
	})
	return stmts
}

// deleteInsertStrategy deletes the key's rows then inserts the new set, as a
// single multi-row INSERT when the backend allows it, otherwise one INSERT
// per row.
type deleteInsertStrategy struct {
	multiValues bool
}

func (s deleteInsertStrategy) replaceStatements(table string, cols []string, keyCol, key string, rows [][]any) []statement {
	stmts := []statement{{
		query: fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, keyCol),
		args:  []any{key},
	}}
	if len(rows) == 0 {
		return stmts
	}
	if s.multiValues {
		tuples := make([]string, len(rows))
		args := make([]any, 0, len(rows)*len(cols))
		n := 1
		for i, row := range rows {
			marks := make([]string, len(cols))
			for j := range cols {
				marks[j] = fmt.Sprintf("$%d", n)
				n++
			}
			tuples[i] = "(" + strings.Join(marks, ", ") + ")"
			args = append(args, row...)
		}
		stmts = append(stmts, statement{
			query: fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(tuples, ", ")),
			args:  args,
		})
		return stmts
	}
	marks := make([]string, len(cols))
	for j := range cols {
		marks[j] = fmt.Sprintf("$%d", j+1)
	}
	single := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	for _, row := range rows {
		stmts = append(stmts, statement{query: single, args: row})
	}
	return stmts
}

// placeholders builds "$start, $start+1, ..." for n values.
func placeholders(start, n int) string {
	marks := make([]string, n)
	for i := 0; i < n; i++ {
		marks[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(marks, ", ")
}
