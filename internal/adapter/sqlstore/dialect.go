package sqlstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// Dialect selects the SQL flavor of a database
type Dialect int

const (
	// SQLite uses "?" placeholders and BLOB bodies
	SQLite Dialect = iota
	// Postgres uses "$n" placeholders and BYTEA bodies
	Postgres
)

// String returns the string representation of the dialect
func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// DialectForDriver returns the dialect of a database/sql driver name
func DialectForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return SQLite, ormerror.Configuration("unsupported sql driver %q", driver)
	}
}

// placeholder returns the bind parameter for the n-th argument (1-based)
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d Dialect) blobType() string {
	if d == Postgres {
		return "BYTEA"
	}
	return "BLOB"
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// statements holds the SQL of one client
type statements struct {
	dialect Dialect
	table   string
}

func newStatements(dialect Dialect, table string) (*statements, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, ormerror.Configuration("invalid table name %q", table)
	}
	return &statements{dialect: dialect, table: table}, nil
}

func (s *statements) createTable() string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (collection TEXT NOT NULL, id TEXT NOT NULL, body %s NOT NULL, PRIMARY KEY (collection, id))",
		s.table, s.dialect.blobType())
}

func (s *statements) insert() string {
	return fmt.Sprintf("INSERT INTO %s (collection, id, body) VALUES (%s, %s, %s)",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3))
}

func (s *statements) update() string {
	return fmt.Sprintf("UPDATE %s SET body = %s WHERE collection = %s AND id = %s",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3))
}

func (s *statements) remove() string {
	return fmt.Sprintf("DELETE FROM %s WHERE collection = %s AND id = %s",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
}

func (s *statements) find() string {
	return fmt.Sprintf("SELECT body FROM %s WHERE collection = %s AND id = %s",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
}

// scan selects the bodies of a collection, optionally restricted to ids
func (s *statements) scan(ids int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT body FROM %s WHERE collection = %s", s.table, s.dialect.placeholder(1))
	if ids > 0 {
		b.WriteString(" AND id IN (")
		for i := 0; i < ids; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.dialect.placeholder(i + 2))
		}
		b.WriteString(")")
	}
	b.WriteString(" ORDER BY id")
	return b.String()
}
