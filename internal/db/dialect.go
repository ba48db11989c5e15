package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects the driver and placeholder style. Queries in this package
// are written with ? placeholders and rebound for Postgres.
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

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func (d Dialect) rebind(q string) string {
	if d != DialectPostgres || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
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

// SQLiteDSN builds the connection string for a database file. Write
// transactions take the lock up front so conditional updates never upgrade a
// shared lock mid-transaction.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", filepath.ToSlash(path))
}

// Open connects to the database for dialect and verifies the connection.
func Open(ctx context.Context, d Dialect, target string) (*sql.DB, error) {
	if target == "" {
		return nil, errors.New("database target is required")
	}
	dsn := target
	if d == DialectSQLite {
		if dir := filepath.Dir(target); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dsn = SQLiteDSN(target)
	}
	conn, err := sql.Open(d.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}
	return conn, nil
}
