package feature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/experimentkit/pkg/pg"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore persists flags in PostgreSQL. Every write runs in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const flagColumns = `id, name, description, enabled, rollout_percentage, version, archived, archived_at,
	created_by, evaluation_count, last_evaluated_at, created_at, updated_at`

func (s *PostgresStore) GetFlagByName(ctx context.Context, name string) (*Flag, error) {
	return s.loadFlag(ctx, s.pool, `SELECT `+flagColumns+` FROM feature_flags WHERE name = $1 AND NOT archived`, name)
}

func (s *PostgresStore) GetFlag(ctx context.Context, id uuid.UUID) (*Flag, error) {
	return s.loadFlag(ctx, s.pool, `SELECT `+flagColumns+` FROM feature_flags WHERE id = $1`, id)
}

func (s *PostgresStore) ListFlags(ctx context.Context, includeArchived bool) ([]*Flag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+flagColumns+` FROM feature_flags WHERE $1 OR NOT archived ORDER BY name, created_at`,
		includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	flags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Flag, error) {
		return scanFlag(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	for _, f := range flags {
		if err := s.loadChildren(ctx, s.pool, f); err != nil {
			return nil, err
		}
	}
	return flags, nil
}

func (s *PostgresStore) CreateFlag(ctx context.Context, f *Flag) error {
	next := f.Clone()
	prepareNew(next, s.now().UTC())

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO feature_flags
			(id, name, description, enabled, rollout_percentage, version, archived, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8, $8)`,
			next.ID, next.Name, next.Description, next.Enabled, next.RolloutPercentage,
			next.Version, next.CreatedBy, next.CreatedAt,
		); err != nil {
			return err
		}
		return writeChildren(ctx, tx, next, true, true)
	})
	if pg.IsDuplicateKeyError(err) {
		return ErrFlagExists
	}
	if err != nil {
		return fmt.Errorf("create flag: %w", err)
	}
	*f = *next
	return nil
}

func (s *PostgresStore) UpdateFlag(ctx context.Context, id uuid.UUID, u FlagUpdate) (*Flag, error) {
	var updated *Flag
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		f, err := s.loadFlag(ctx, tx,
			`SELECT `+flagColumns+` FROM feature_flags WHERE id = $1 AND NOT archived FOR UPDATE`, id)
		if err != nil {
			return err
		}
		u.apply(f, s.now().UTC())
		if _, err := tx.Exec(ctx, `UPDATE feature_flags
			SET description = $2, enabled = $3, rollout_percentage = $4, version = $5, updated_at = $6
			WHERE id = $1`,
			f.ID, f.Description, f.Enabled, f.RolloutPercentage, f.Version, f.UpdatedAt,
		); err != nil {
			return err
		}
		if err := writeChildren(ctx, tx, f, u.Variants != nil, u.Rules != nil); err != nil {
			return err
		}
		updated = f
		return nil
	})
	if errors.Is(err, ErrFlagNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("update flag: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) ArchiveFlag(ctx context.Context, id uuid.UUID) (*Flag, error) {
	var archived *Flag
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		f, err := s.loadFlag(ctx, tx,
			`SELECT `+flagColumns+` FROM feature_flags WHERE id = $1 AND NOT archived FOR UPDATE`, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE feature_flags SET archived = true, archived_at = $2, updated_at = $2 WHERE id = $1`,
			id, now,
		); err != nil {
			return err
		}
		f.Archived = true
		f.ArchivedAt = &now
		f.UpdatedAt = now
		archived = f
		return nil
	})
	if errors.Is(err, ErrFlagNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("archive flag: %w", err)
	}
	return archived, nil
}

func (s *PostgresStore) RecordEvaluations(ctx context.Context, counts []EvaluationCount) error {
	if len(counts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range counts {
		batch.Queue(`UPDATE feature_flags
			SET evaluation_count = evaluation_count + $2,
			    last_evaluated_at = GREATEST(COALESCE(last_evaluated_at, $3), $3)
			WHERE id = $1`, c.FlagID, c.Count, c.LastEvaluatedAt.UTC())
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record evaluations: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadFlag(ctx context.Context, q querier, query string, arg any) (*Flag, error) {
	f, err := scanFlag(q.QueryRow(ctx, query, arg))
	if pg.IsNotFoundError(err) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load flag: %w", err)
	}
	if err := s.loadChildren(ctx, q, f); err != nil {
		return nil, err
	}
	return f, nil
}

// loadChildren fetches variants and rules in one round trip.
func (s *PostgresStore) loadChildren(ctx context.Context, q querier, f *Flag) error {
	batch := &pgx.Batch{}
	batch.Queue(`SELECT id, flag_id, name, weight, payload, enabled
		FROM feature_flag_variants WHERE flag_id = $1 ORDER BY name`, f.ID)
	batch.Queue(`SELECT id, flag_id, attribute, operator, value, enabled, priority
		FROM targeting_rules WHERE flag_id = $1 ORDER BY priority, position`, f.ID)

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	rows, err := br.Query()
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}
	f.Variants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Variant, error) {
		var v Variant
		var payload []byte
		err := row.Scan(&v.ID, &v.FlagID, &v.Name, &v.Weight, &payload, &v.Enabled)
		v.Payload = payload
		return v, err
	})
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}

	rows, err = br.Query()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	f.Rules, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Rule, error) {
		var r Rule
		var op string
		var value []byte
		if err := row.Scan(&r.ID, &r.FlagID, &r.Attribute, &op, &value, &r.Enabled, &r.Priority); err != nil {
			return r, err
		}
		cond, err := ParseCondition(Operator(op), value)
		if err != nil {
			return r, err
		}
		r.Condition = cond
		return r, nil
	})
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	return nil
}

// writeChildren replaces the stored variants and/or rules of f.
func writeChildren(ctx context.Context, tx pgx.Tx, f *Flag, variants, rules bool) error {
	batch := &pgx.Batch{}
	if variants {
		batch.Queue(`DELETE FROM feature_flag_variants WHERE flag_id = $1`, f.ID)
		for _, v := range f.Variants {
			var payload any
			if len(v.Payload) > 0 {
				payload = []byte(v.Payload)
			}
			batch.Queue(`INSERT INTO feature_flag_variants (id, flag_id, name, weight, payload, enabled)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				v.ID, f.ID, v.Name, v.Weight, payload, v.Enabled)
		}
	}
	if rules {
		batch.Queue(`DELETE FROM targeting_rules WHERE flag_id = $1`, f.ID)
		for i, r := range f.Rules {
			value, err := MarshalCondition(r.Condition)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO targeting_rules (id, flag_id, attribute, operator, value, enabled, priority, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				r.ID, f.ID, r.Attribute, string(r.Condition.Operator()), []byte(value), r.Enabled, r.Priority, i)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

func scanFlag(row pgx.Row) (*Flag, error) {
	var f Flag
	err := row.Scan(
		&f.ID, &f.Name, &f.Description, &f.Enabled, &f.RolloutPercentage, &f.Version,
		&f.Archived, &f.ArchivedAt, &f.CreatedBy, &f.EvaluationCount, &f.LastEvaluatedAt,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
