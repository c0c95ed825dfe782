package db

import (
	"strconv"
	"strings"
)

// Dialect selects SQL differences between the supported backends.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $N for Postgres. Quoted literals are
// left alone.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ddl fills the type placeholders of a schema template.
func (d Dialect) ddl(tmpl string) string {
	r := strings.NewReplacer(
		"{{serial}}", d.pick("INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY"),
		"{{bigint}}", d.pick("INTEGER", "BIGINT"),
		"{{real}}", d.pick("REAL", "DOUBLE PRECISION"),
	)
	return r.Replace(tmpl)
}

func (d Dialect) pick(sqlite, postgres string) string {
	if d == DialectPostgres {
		return postgres
	}
	return sqlite
}
