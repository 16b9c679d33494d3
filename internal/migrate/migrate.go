// Package migrate copies the vocalytics tables from one store to
// another, coercing values the destination cannot hold natively:
// structured JSON becomes text and arbitrary-precision decimals
// become floats.
package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/wesm/vocalytics/internal/db"
	"github.com/wesm/vocalytics/internal/logging"
	"github.com/wesm/vocalytics/internal/metrics"
)

// Destination is the store rows are written to. *db.DB
// implements it.
type Destination interface {
	Update(ctx context.Context, fn func(tx *sql.Tx) error) error
	Dialect() db.Dialect
}

// Result reports one migrated table.
type Result struct {
	Table   string
	Rows    int
	Elapsed time.Duration
}

// Migrator copies tables from src to dst.
type Migrator struct {
	src     *sql.DB
	dst     Destination
	metrics *metrics.Manager
	log     zerolog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithMetrics counts migrated rows on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(mg *Migrator) { mg.metrics = m }
}

// New returns a Migrator reading from src and writing to dst.
func New(src *sql.DB, dst Destination, opts ...Option) *Migrator {
	m := &Migrator{
		src: src,
		dst: dst,
		log: logging.Named("migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run migrates tables in order and stops at the first failure.
// Tables before the failing one stay committed.
func (m *Migrator) Run(ctx context.Context, tables []Table) ([]Result, error) {
	results := make([]Result, 0, len(tables))
	for _, t := range tables {
		res, err := m.MigrateTable(ctx, t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// MigrateTable copies every row of t inside a single destination
// transaction. Any read, conversion or insert error rolls the
// whole table back.
func (m *Migrator) MigrateTable(ctx context.Context, t Table) (Result, error) {
	if err := t.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	res := Result{Table: t.Name}

	err := m.dst.Update(ctx, func(tx *sql.Tx) error {
		n, err := m.copyRows(ctx, tx, t)
		res.Rows = n
		return err
	})
	if err != nil {
		return Result{Table: t.Name}, fmt.Errorf("migrating %s: %w", t.Name, err)
	}
	res.Elapsed = time.Since(start)
	m.metrics.AddMigratedRows(t.DestName(), res.Rows)
	m.log.Info().
		Str("table", t.Name).
		Int("rows", res.Rows).
		Dur("elapsed", res.Elapsed).
		Msg("migrated table")
	return res, nil
}

func (m *Migrator) copyRows(
	ctx context.Context, tx *sql.Tx, t Table,
) (int, error) {
	rows, err := m.src.QueryContext(ctx, selectSQL(t))
	if err != nil {
		return 0, fmt.Errorf("reading source: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return 0, fmt.Errorf("reading column types: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		m.dst.Dialect().Rebind(insertSQL(t)))
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	vals := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("scanning row %d: %w", n+1, err)
		}
		args := make([]any, len(vals))
		for i, col := range t.Columns {
			v, err := convertValue(
				vals[i], t.isJSON(col), types[i].DatabaseTypeName(),
			)
			if err != nil {
				return n, fmt.Errorf(
					"row %d column %s: %w", n+1, col, err,
				)
			}
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, fmt.Errorf("inserting row %d: %w", n+1, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("reading source: %w", err)
	}
	return n, nil
}

// quoteIdent quotes each dot-separated part of an identifier.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func quoteColumns(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = quoteIdent(c)
	}
	return strings.Join(q, ", ")
}

func selectSQL(t Table) string {
	return "SELECT " + quoteColumns(t.Columns) +
		" FROM " + quoteIdent(t.Name)
}

func insertSQL(t Table) string {
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return "INSERT INTO " + quoteIdent(t.DestName()) +
		" (" + quoteColumns(t.Columns) + ") VALUES (" + ph + ")"
}

// convertValue coerces a source value into one the destination
// stores natively. dbType is the source column's type name.
func convertValue(v any, isJSON bool, dbType string) (any, error) {
	if v == nil {
		return nil, nil
	}
	if isJSON {
		return jsonText(v)
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64(), nil
	case *decimal.Decimal:
		return x.InexactFloat64(), nil
	case decimal.NullDecimal:
		if !x.Valid {
			return nil, nil
		}
		return x.Decimal.InexactFloat64(), nil
	}
	if isDecimalType(dbType) {
		return decimalToFloat(v)
	}
	return v, nil
}

func isDecimalType(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL":
		return true
	}
	return false
}

// decimalToFloat parses the textual forms drivers use for
// NUMERIC values.
func decimalToFloat(v any) (any, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parsing decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// jsonText renders a structured value as compact JSON text.
// Values already in text form must be valid JSON.
func jsonText(v any) (any, error) {
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
		return string(b), nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid json value %q", truncate(raw, 40))
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("compacting json: %w", err)
	}
	return buf.String(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
