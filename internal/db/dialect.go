package db

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wesm/vocalytics/internal/config"
)

// ErrUnknownDialect is returned for a driver with no dialect.
var ErrUnknownDialect = errors.New("unknown dialect")

// Dialect renders the engine-specific SQL fragments used by the
// query templates. Every date expression is evaluated by the
// store, never by the caller, so the store clock is the only
// clock.
type Dialect interface {
	Name() string
	// Rebind rewrites ? placeholders into the engine's style.
	Rebind(query string) string
	// Table qualifies a bare table name.
	Table(name string) string
	Today() string
	DaysAgo(n int) string
	MonthStart() string
	NextMonthStart() string
	// DayLabel renders the YYYY-MM-DD text of a timestamp column.
	DayLabel(col string) string
	// DaysSince is the whole number of days from col's date to today.
	DaysSince(col string) string
	// TagJoin expands a JSON array column into rows of t.value.
	TagJoin(col string) string
}

// DialectFor returns the dialect for a configured store.
func DialectFor(cfg config.StoreConfig) (Dialect, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgresDialect{schema: cfg.Schema}, nil
	case config.DriverSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, cfg.Driver)
	}
}

type postgresDialect struct {
	schema string
}

func (postgresDialect) Name() string { return config.DriverPostgres }

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == '?' && !inQuote:
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d postgresDialect) Table(name string) string {
	if d.schema == "" {
		return name
	}
	return d.schema + "." + name
}

func (postgresDialect) Today() string { return "CURRENT_DATE" }

func (postgresDialect) DaysAgo(n int) string {
	return fmt.Sprintf("(CURRENT_DATE - %d)", n)
}

func (postgresDialect) MonthStart() string {
	return "CAST(date_trunc('month', CURRENT_DATE) AS DATE)"
}

func (postgresDialect) NextMonthStart() string {
	return "CAST(date_trunc('month', CURRENT_DATE) + INTERVAL '1 month' AS DATE)"
}

func (postgresDialect) DayLabel(col string) string {
	return "TO_CHAR(DATE(" + col + "), 'YYYY-MM-DD')"
}

func (postgresDialect) DaysSince(col string) string {
	return "(CURRENT_DATE - DATE(" + col + "))"
}

// TagJoin skips tag documents that are not arrays so one bad row
// cannot fail the whole aggregation.
func (postgresDialect) TagJoin(col string) string {
	doc := col + "::jsonb"
	return "CROSS JOIN LATERAL jsonb_array_elements_text(" +
		"CASE WHEN jsonb_typeof(" + doc + ") = 'array' THEN " +
		doc + " ELSE '[]'::jsonb END) AS t(value)"
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return config.DriverSQLite }

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) Table(name string) string { return name }

func (sqliteDialect) Today() string { return "date('now')" }

func (sqliteDialect) DaysAgo(n int) string {
	return fmt.Sprintf("date('now', '-%d days')", n)
}

func (sqliteDialect) MonthStart() string {
	return "date('now', 'start of month')"
}

func (sqliteDialect) NextMonthStart() string {
	return "date('now', 'start of month', '+1 month')"
}

func (sqliteDialect) DayLabel(col string) string {
	return "date(" + col + ")"
}

func (sqliteDialect) DaysSince(col string) string {
	return "CAST(julianday(date('now')) - julianday(date(" + col +
		")) AS INTEGER)"
}

// TagJoin treats malformed or non-array tag documents as empty
// arrays, matching the postgres dialect.
func (sqliteDialect) TagJoin(col string) string {
	return "CROSS JOIN json_each(CASE WHEN json_valid(" + col +
		") THEN CASE json_type(" + col + ") WHEN 'array' THEN " +
		col + " ELSE '[]' END ELSE '[]' END) AS t"
}
