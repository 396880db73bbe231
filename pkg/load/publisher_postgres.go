package load

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// DefaultPointerTable holds one row per dataset.
const DefaultPointerTable = "gridetl_datasets"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PgxQuerier is the subset of pgxpool.Pool used by PostgresPublisher.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresPublisherOptions configures the pointer row.
type PostgresPublisherOptions struct {
	DSN     string `yaml:"dsn"`
	Dataset string `yaml:"dataset"`
	Table   string `yaml:"table"`
}

// PostgresPublisher keeps the CID in a row keyed by dataset name.
// PublishIf is a compare-and-set on that row.
type PostgresPublisher struct {
	db      PgxQuerier
	dataset string
	table   string
	logger  *zap.Logger
}

// ConnectPostgres opens a pool for dsn.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres publisher requires a dsn")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse PostgreSQL connection string")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL connection pool")
	}
	return pool, nil
}

// NewPostgresPublisher returns a publisher over db. table defaults to
// DefaultPointerTable.
func NewPostgresPublisher(db PgxQuerier, dataset, table string) (*PostgresPublisher, error) {
	if dataset == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres publisher requires a dataset name")
	}
	if table == "" {
		table = DefaultPointerTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid table name %q", table)
	}
	return &PostgresPublisher{
		db:      db,
		dataset: dataset,
		table:   pgx.Identifier{table}.Sanitize(),
		logger: logger.Get().With(zap.String("component", "postgres_publisher"),
			zap.String("dataset", dataset)),
	}, nil
}

func (p *PostgresPublisher) Kind() string { return "postgres" }

// Close releases the connection pool when the publisher owns one.
func (p *PostgresPublisher) Close() error {
	if c, ok := p.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

// EnsureTable creates the pointer table when missing.
func (p *PostgresPublisher) EnsureTable(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	dataset TEXT PRIMARY KEY,
	cid TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, p.table)
	if _, err := p.db.Exec(ctx, sql); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to create table %s", p.table)
	}
	return nil
}

func (p *PostgresPublisher) Publish(ctx context.Context, cid cas.CID) error {
	if !cid.Defined() {
		return errors.New(errors.ErrorTypeValidation, "cannot publish an undefined CID")
	}
	sql := fmt.Sprintf(`INSERT INTO %s (dataset, cid, updated_at) VALUES ($1, $2, now())
ON CONFLICT (dataset) DO UPDATE SET cid = EXCLUDED.cid, updated_at = now()`, p.table)
	if _, err := p.db.Exec(ctx, sql, p.dataset, cid.String()); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to publish %s", p.dataset)
	}
	p.logger.Debug("pointer written", zap.Stringer("cid", cid))
	return nil
}

func (p *PostgresPublisher) Retrieve(ctx context.Context) (cas.CID, bool, error) {
	var text string
	sql := fmt.Sprintf(`SELECT cid FROM %s WHERE dataset = $1`, p.table)
	err := p.db.QueryRow(ctx, sql, p.dataset).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return cas.CID{}, false, nil
	}
	if err != nil {
		return cas.CID{}, false, errors.Wrapf(err, errors.ErrorTypeStorage, "failed to read pointer of %s", p.dataset)
	}
	cid, err := cas.ParseCID(text)
	if err != nil {
		return cas.CID{}, false, err
	}
	return cid, true, nil
}

func (p *PostgresPublisher) PublishIf(ctx context.Context, expected, next cas.CID) error {
	if !next.Defined() {
		return errors.New(errors.ErrorTypeValidation, "cannot publish an undefined CID")
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if expected.Defined() {
		sql := fmt.Sprintf(`UPDATE %s SET cid = $2, updated_at = now() WHERE dataset = $1 AND cid = $3`, p.table)
		tag, err = p.db.Exec(ctx, sql, p.dataset, next.String(), expected.String())
	} else {
		sql := fmt.Sprintf(`INSERT INTO %s (dataset, cid, updated_at) VALUES ($1, $2, now())
ON CONFLICT (dataset) DO NOTHING`, p.table)
		tag, err = p.db.Exec(ctx, sql, p.dataset, next.String())
	}
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to publish %s", p.dataset)
	}
	if tag.RowsAffected() == 0 {
		found, _, rerr := p.Retrieve(ctx)
		if rerr != nil {
			return rerr
		}
		return ErrConflict(expected, found)
	}
	p.logger.Debug("pointer swapped", zap.Stringer("previous", expected), zap.Stringer("cid", next))
	return nil
}
