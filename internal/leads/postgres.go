package leads

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

const insertLead = `
INSERT INTO leads (id, name, mobile, description)
VALUES ($1, $2, $3, $4)
RETURNING id::text, name, mobile, description, created_at`

const selectLead = `
SELECT id::text, name, mobile, description, created_at
FROM leads
WHERE id = $1`

const selectLeads = `
SELECT id::text, name, mobile, description, created_at
FROM leads
ORDER BY created_at, id`

// Postgres stores leads in a hosted Postgres database.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenPostgres connects to dsn and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open leads database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping leads database: %w", err)
	}
	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, log: logger}, nil
}

func (p *Postgres) CreateLead(ctx context.Context, input domain.LeadInput) (domain.Lead, error) {
	input, err := Normalize(input)
	if err != nil {
		return domain.Lead{}, err
	}

	var lead domain.Lead
	err = p.pool.QueryRow(ctx, insertLead, uuid.NewString(), input.Name, input.Mobile, input.Description).
		Scan(&lead.ID, &lead.Name, &lead.Mobile, &lead.Description, &lead.CreatedAt)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	p.log.Info().Str("lead_id", lead.ID).Msg("lead stored")
	return lead, nil
}

// Lead loads one stored lead.
func (p *Postgres) Lead(ctx context.Context, id string) (domain.Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Lead{}, ErrNotFound
	}

	var lead domain.Lead
	err := p.pool.QueryRow(ctx, selectLead, id).
		Scan(&lead.ID, &lead.Name, &lead.Mobile, &lead.Description, &lead.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("load lead: %w", err)
	}
	return lead, nil
}

// Leads returns every stored lead, oldest first.
func (p *Postgres) Leads(ctx context.Context) ([]domain.Lead, error) {
	rows, err := p.pool.Query(ctx, selectLeads)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Lead, error) {
		var lead domain.Lead
		err := row.Scan(&lead.ID, &lead.Name, &lead.Mobile, &lead.Description, &lead.CreatedAt)
		return lead, err
	})
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func migrationFS() (fs.FS, error) {
	return fs.Sub(migrations, "migrations")
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	fsys, err := migrationFS()
	if err != nil {
		return fmt.Errorf("load lead migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("prepare lead migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply lead migrations: %w", err)
	}
	for _, result := range results {
		logger.Info().Int64("version", result.Source.Version).Dur("took", result.Duration).Msg("lead migration applied")
	}
	return nil
}
