package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultPostgresSequence = "smpp_sequence_number"

// PgQuerier is the subset of *pgxpool.Pool used by PostgresSource.
type PgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgQuerier = (*pgxpool.Pool)(nil)

// PostgresSource draws sequence numbers from a database sequence so several
// gateway instances can share one numbering space.
type PostgresSource struct {
	db   PgQuerier
	name string
}

var _ Source = (*PostgresSource)(nil)

// NewPostgresSource uses DefaultPostgresSequence when name is empty.
func NewPostgresSource(db PgQuerier, name string) *PostgresSource {
	if name == "" {
		name = DefaultPostgresSequence
	}
	return &PostgresSource{db: db, name: name}
}

// Init creates the sequence if it does not exist. It cycles over the same
// range as Counter.
func (s *PostgresSource) Init(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s MINVALUE 1 MAXVALUE %d CYCLE",
		pgx.Identifier{s.name}.Sanitize(), MaxSequence)
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create sequence %s: %w", s.name, err)
	}
	return nil
}

// Next calls nextval on the sequence.
func (s *PostgresSource) Next(ctx context.Context) (uint32, error) {
	var v int64
	if err := s.db.QueryRow(ctx, "SELECT nextval($1::regclass)", pgx.Identifier{s.name}.Sanitize()).Scan(&v); err != nil {
		return 0, fmt.Errorf("nextval %s: %w", s.name, err)
	}
	if v < 1 || v > int64(MaxSequence) {
		return 0, fmt.Errorf("postgres sequence %d out of range", v)
	}
	return uint32(v), nil
}
