package sqlstore

import (
	"strconv"
	"strings"
)

// dialect captures the few places PostgreSQL and SQLite disagree
type dialect struct {
	name      string
	jsonType  string
	serialKey string
	numbered  bool
}

var (
	postgresDialect = dialect{name: DriverPostgres, jsonType: "JSONB", serialKey: "BIGSERIAL PRIMARY KEY", numbered: true}
	sqliteDialect   = dialect{name: DriverSQLite, jsonType: "TEXT", serialKey: "INTEGER PRIMARY KEY AUTOINCREMENT"}
)

func dialectFor(driver string) dialect {
	if driver == DriverSQLite {
		return sqliteDialect
	}
	return postgresDialect
}

// rebind rewrites ? placeholders into $n for drivers that need them
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
