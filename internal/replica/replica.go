// Package replica reads user, revision and log records from the Wikimedia
// wiki replicas (one {lang}wiki_p database per language) and returns them
// as tables.
//
// The connection handle is explicit: a Source wraps the *sqlx.DB it was
// given and never reads credentials from the environment. Table names are
// qualified with the wiki database instead of switching databases with
// USE, so one pooled connection set serves every language.
package replica

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrRowSource marks a failed replica query (RowSourceFailure).
var ErrRowSource = errors.New("replica: query failed")

var langPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Config holds replica connection settings
type Config struct {
	User     string `yaml:"user" json:"user" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
	Host     string `yaml:"host" json:"host" validate:"required"`
	Port     int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
}

// Open connects to the replica host
func Open(cfg Config) (*sqlx.DB, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.Params = map[string]string{"charset": "utf8mb4"}
	mc.Timeout = 30 * time.Second

	db, err := sqlx.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open replica connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)
	return db, nil
}

// Source runs replica queries over an explicit connection
type Source struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New creates a Source; logger may be nil
func New(db *sqlx.DB, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{db: db, logger: logger.Named("replica")}
}

// Close closes the underlying connection pool
func (s *Source) Close() error {
	return s.db.Close()
}

// database returns the replica database name for lang, e.g. "arwiki_p".
func database(lang string) (string, error) {
	if !langPattern.MatchString(lang) {
		return "", fmt.Errorf("%w: invalid language code %q", ErrRowSource, lang)
	}
	return strings.ReplaceAll(lang, "-", "_") + "wiki_p", nil
}

// query substitutes {db} with the language's database and logs the call.
func (s *Source) query(lang, op, tmpl string) (string, error) {
	db, err := database(lang)
	if err != nil {
		return "", err
	}
	s.logger.Debug("replica query", zap.String("op", op), zap.String("lang", lang))
	return strings.ReplaceAll(tmpl, "{db}", db), nil
}

func (s *Source) selectContext(ctx context.Context, dest any, op, q string, args ...any) error {
	if err := s.db.SelectContext(ctx, dest, q, args...); err != nil {
		return fail(op, err)
	}
	return nil
}

func fail(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRowSource, op, err)
}
