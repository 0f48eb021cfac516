package db

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scaleprep/internal/config"
)

// ErrUnsupportedURL is returned for database URLs whose scheme has no driver.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Connect opens a GORM connection for cfg.DatabaseURL, authenticating with
// cfg.Username and cfg.Password. The scheme picks the driver: postgres,
// mysql (SQLAlchemy style mysql+driver:// is accepted) or sqlite.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.DatabaseURL, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	if _, ok := dialector.(*postgres.Dialector); ok {
		// PrepareStmt: true prevents the GORM postgres driver from forcing simple protocol
		// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
		gcfg.PrepareStmt = true
	}

	conn, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", Redact(cfg.DatabaseURL))
	}
	return conn, nil
}

// Dialector maps a database URL plus credentials onto a GORM dialector.
func Dialector(rawURL, username, password string) (gorm.Dialector, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("database url is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}

	// mysql+pymysql://, postgresql+psycopg2:// and friends
	scheme, _, _ := strings.Cut(strings.ToLower(u.Scheme), "+")

	switch scheme {
	case "postgres", "postgresql":
		u.Scheme = "postgres"
		if username != "" {
			u.User = url.UserPassword(username, password)
		}
		return postgres.Open(u.String()), nil

	case "mysql":
		return gormmysql.Open(mysqlDSN(u, username, password)), nil

	case "sqlite", "sqlite3":
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return nil, errors.New("sqlite url needs a file path, e.g. sqlite:///tmp/apm.db")
		}
		return sqlite.Open(path), nil
	}

	return nil, errors.WithHint(
		errors.Wrapf(ErrUnsupportedURL, "scheme %q", u.Scheme),
		"use a postgres://, mysql:// or sqlite:// url")
}

func mysqlDSN(u *url.URL, username, password string) string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = u.Host
	mc.DBName = strings.TrimPrefix(u.Path, "/")
	mc.ParseTime = true
	if username != "" {
		mc.User = username
		mc.Passwd = password
	} else if u.User != nil {
		mc.User = u.User.Username()
		mc.Passwd, _ = u.User.Password()
	}
	if params := u.Query(); len(params) > 0 {
		mc.Params = make(map[string]string, len(params))
		for k := range params {
			mc.Params[k] = params.Get(k)
		}
	}
	return mc.FormatDSN()
}

// Redact strips credentials from a database URL so it can be logged.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
