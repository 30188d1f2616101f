package db

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/smallbiznis/caseledger/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm driver for DATABASE_TYPE. Every driver is pinned
// to UTC so work_date and created_at round-trip identically.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.DBType))
	dsn, err := DSN(kind, cfg)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return postgres.Open(dsn), nil
	}
}

// DSN renders the connection string for a driver kind.
func DSN(kind string, cfg config.Config) (string, error) {
	switch kind {
	case "postgres", "postgresql":
		sslMode := strings.TrimSpace(cfg.DBSSLMode)
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, sslMode), nil
	case "mysql":
		params := url.Values{}
		params.Set("charset", "utf8mb4")
		params.Set("parseTime", "true")
		params.Set("loc", "UTC")
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, params.Encode()), nil
	case "sqlite":
		file := strings.TrimSpace(cfg.DBName)
		if file == "" {
			file = "caseledger"
		}
		if file != ":memory:" && !strings.HasSuffix(file, ".db") {
			file += ".db"
		}
		return file + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil
	}
	return "", fmt.Errorf("unsupported database type %q", kind)
}
