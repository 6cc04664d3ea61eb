package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// mysqlDuplicateKeyName is returned when an index already exists.
const mysqlDuplicateKeyName = 1061

// openMySQL opens a MySQL or MariaDB connection.
// The DSN may be a mysql:// or mariadb:// URL or a native driver DSN.
func openMySQL(cfg domain.RepositoryConfig) (*sql.DB, error) {
	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}

	mcfg, err := parseMySQLDSN(cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if cfg.ConnMaxLifetime == 0 {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	return db, nil
}

// parseMySQLDSN normalizes a URL or native DSN into a driver config that
// parses DATETIME/TIMESTAMP columns into time.Time in UTC. URL query
// parameters are kept.
func parseMySQLDSN(dsn string) (*mysql.Config, error) {
	var mcfg *mysql.Config

	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}

		// Query parameters (tls, timeout, session variables) go through the
		// driver's own parser.
		mcfg = mysql.NewConfig()
		if u.RawQuery != "" {
			parsed, err := mysql.ParseDSN("/?" + u.RawQuery)
			if err != nil {
				return nil, fmt.Errorf("parse dsn parameters: %w", err)
			}
			mcfg = parsed
		}
		if u.User != nil {
			mcfg.User = u.User.Username()
			mcfg.Passwd, _ = u.User.Password()
		}
		mcfg.Net = "tcp"
		mcfg.Addr = u.Host
		mcfg.DBName = strings.TrimPrefix(u.Path, "/")

		if mcfg.User == "" || mcfg.Addr == "" || mcfg.DBName == "" {
			return nil, fmt.Errorf("incomplete mysql dsn: user, host and database are required")
		}
	} else {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}
		mcfg = parsed
	}

	mcfg.ParseTime = true
	mcfg.Loc = time.UTC
	return mcfg, nil
}

func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKeyName
}
