package report

import (
	"strings"
	"time"
)

// Dialect selects the SQL flavour of the backend that will run the query.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func ParseDialect(s string) Dialect {
	if strings.EqualFold(strings.TrimSpace(s), string(DialectSQLite)) {
		return DialectSQLite
	}
	return DialectPostgres
}

func (d Dialect) dayBucket(col string) string {
	if d == DialectSQLite {
		return "substr(CAST(" + col + " AS TEXT), 1, 10)"
	}
	return "to_char(" + col + " AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
}

// numeric casts a column to a number, treating NULL and non-numeric text as
// zero.
func (d Dialect) numeric(col string) string {
	if d == DialectSQLite {
		return "COALESCE(CAST(" + col + " AS REAL), 0)"
	}
	text := "CAST(" + col + " AS TEXT)"
	return "CASE WHEN " + text + ` ~ '^\s*-?[0-9]+(\.[0-9]+)?\s*$' THEN CAST(` + text + " AS DOUBLE PRECISION) ELSE 0 END"
}

// timeLiteral renders t the way each backend compares timestamps. SQLite
// stores them as text, so the literal must sort like the stored form.
func (d Dialect) timeLiteral(t time.Time) string {
	t = t.UTC()
	if d == DialectSQLite {
		return EscapeLiteral(t.Format("2006-01-02 15:04:05.999") + "+00:00")
	}
	return EscapeLiteral(t.Format("2006-01-02 15:04:05.999") + "+00")
}
