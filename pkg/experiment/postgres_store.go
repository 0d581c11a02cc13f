package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/experimentkit/pkg/pg"
)

// PostgresStore persists experiments in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const experimentColumns = `id, name, description, flag_id, status, start_date, end_date,
	power, confidence_level, minimum_detectable_effect, created_at, updated_at`

func (s *PostgresStore) CreateExperiment(ctx context.Context, e *Experiment) error {
	next := e.Clone()
	prepareNew(next, s.now().UTC())

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`INSERT INTO experiments (`+experimentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
			next.ID, next.Name, next.Description, next.FlagID, string(next.Status), next.StartDate, next.EndDate,
			next.Power, next.ConfidenceLevel, next.MinimumDetectableEffect, next.CreatedAt)
		for _, v := range next.Variants {
			batch.Queue(`INSERT INTO experiment_variants (id, experiment_id, name, traffic_allocation, is_control)
				VALUES ($1, $2, $3, $4, $5)`, v.ID, next.ID, v.Name, v.TrafficAllocation, v.IsControl)
		}
		for _, m := range next.Metrics {
			batch.Queue(`INSERT INTO metric_definitions (id, experiment_id, name, event_name, aggregation, is_primary)
				VALUES ($1, $2, $3, $4, $5, $6)`, m.ID, next.ID, m.Name, m.EventName, string(m.Aggregation), m.IsPrimary)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(ErrInvalidExperiment, err)
	}
	if pg.IsForeignKeyViolationError(err) {
		return fmt.Errorf("%w: flag %s does not exist", ErrInvalidExperiment, next.FlagID)
	}
	if err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}
	*e = *next
	return nil
}

func (s *PostgresStore) GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error) {
	return s.loadExperiment(ctx, s.pool, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id)
}

func (s *PostgresStore) ListExperiments(ctx context.Context, filter ListFilter) ([]*Experiment, error) {
	statuses := make([]string, len(filter.Status))
	for i, st := range filter.Status {
		statuses[i] = string(st)
	}
	var flagID *uuid.UUID
	if filter.FlagID != uuid.Nil {
		flagID = &filter.FlagID
	}

	rows, err := s.pool.Query(ctx, `SELECT `+experimentColumns+` FROM experiments
		WHERE ($1::uuid IS NULL OR flag_id = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at, id`, flagID, statuses)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Experiment, error) {
		return scanExperiment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	for _, e := range list {
		if err := loadChildren(ctx, s.pool, e); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *PostgresStore) UpdateExperiment(ctx context.Context, id uuid.UUID, mutate func(*Experiment) error) (*Experiment, error) {
	var updated *Experiment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		e, err := s.loadExperiment(ctx, tx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if err := mutate(e); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE experiments
			SET status = $2, start_date = $3, end_date = $4, description = $5, updated_at = $6
			WHERE id = $1`,
			id, string(e.Status), e.StartDate, e.EndDate, e.Description, e.UpdatedAt,
		); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrExperimentNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("update experiment: %w", err)
	}
	return updated, nil
}

// RecordEvents creates missing segments and appends the events in one transaction.
// An existing segment is never reassigned.
func (s *PostgresStore) RecordEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range events {
			if ev.ID == uuid.Nil {
				ev.ID = uuid.New()
			}
			batch.Queue(`INSERT INTO user_segments (user_id, experiment_id, variant_id, assigned_at)
				SELECT $1, $2, v.id, $4 FROM experiment_variants v WHERE v.id = $3 AND v.experiment_id = $2
				ON CONFLICT (user_id, experiment_id) DO NOTHING`,
				ev.UserID, ev.ExperimentID, ev.VariantID, ev.Timestamp.UTC())
			batch.Queue(`INSERT INTO metric_events (id, user_id, experiment_id, variant_id, event_name, event_type, value, occurred_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				ev.ID, ev.UserID, ev.ExperimentID, ev.VariantID, ev.EventName, string(ev.EventType), ev.Value, ev.Timestamp.UTC())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if pg.IsForeignKeyViolationError(err) {
		return errors.Join(ErrInvalidEvent, err)
	}
	if err != nil {
		return fmt.Errorf("record events: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountParticipants(ctx context.Context, experimentID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT variant_id, COUNT(*) FROM user_segments
		WHERE experiment_id = $1 GROUP BY variant_id`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}
	out := make(map[uuid.UUID]int64)
	var variantID uuid.UUID
	var count int64
	_, err = pgx.ForEachRow(rows, []any{&variantID, &count}, func() error {
		out[variantID] = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AggregateMetric(ctx context.Context, experimentID uuid.UUID, eventName string) (map[uuid.UUID]MetricAggregate, error) {
	rows, err := s.pool.Query(ctx, `SELECT s.variant_id, COUNT(*), COALESCE(SUM(e.value), 0), COUNT(DISTINCT e.user_id)
		FROM metric_events e
		JOIN user_segments s ON s.user_id = e.user_id AND s.experiment_id = e.experiment_id
		WHERE e.experiment_id = $1 AND e.event_name = $2
		GROUP BY s.variant_id`, experimentID, eventName)
	if err != nil {
		return nil, fmt.Errorf("aggregate metric %q: %w", eventName, err)
	}
	out := make(map[uuid.UUID]MetricAggregate)
	var variantID uuid.UUID
	var agg MetricAggregate
	_, err = pgx.ForEachRow(rows, []any{&variantID, &agg.Events, &agg.TotalValue, &agg.UniqueUsers}, func() error {
		out[variantID] = agg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate metric %q: %w", eventName, err)
	}
	return out, nil
}

func (s *PostgresStore) EventWindow(ctx context.Context, experimentID uuid.UUID) (first, last time.Time, ok bool, err error) {
	var minTS, maxTS *time.Time
	err = s.pool.QueryRow(ctx, `SELECT MIN(occurred_at), MAX(occurred_at) FROM metric_events WHERE experiment_id = $1`,
		experimentID).Scan(&minTS, &maxTS)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("event window: %w", err)
	}
	if minTS == nil || maxTS == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return *minTS, *maxTS, true, nil
}

// SaveResults upserts in a single statement, so concurrent analyses resolve to the last writer.
func (s *PostgresStore) SaveResults(ctx context.Context, r *Results) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO experiment_results (experiment_id, results, generated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (experiment_id) DO UPDATE SET results = EXCLUDED.results, generated_at = EXCLUDED.generated_at`,
		r.ExperimentID, raw, r.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestResults(ctx context.Context, experimentID uuid.UUID) (*Results, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT results FROM experiment_results WHERE experiment_id = $1`, experimentID).Scan(&raw)
	if pg.IsNotFoundError(err) {
		return nil, ErrResultsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	var r Results
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return &r, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (s *PostgresStore) loadExperiment(ctx context.Context, q querier, query string, id uuid.UUID) (*Experiment, error) {
	e, err := scanExperiment(q.QueryRow(ctx, query, id))
	if pg.IsNotFoundError(err) {
		return nil, ErrExperimentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if err := loadChildren(ctx, q, e); err != nil {
		return nil, err
	}
	return e, nil
}

func loadChildren(ctx context.Context, q querier, e *Experiment) error {
	batch := &pgx.Batch{}
	batch.Queue(`SELECT id, experiment_id, name, traffic_allocation, is_control
		FROM experiment_variants WHERE experiment_id = $1 ORDER BY name`, e.ID)
	batch.Queue(`SELECT id, experiment_id, name, event_name, aggregation, is_primary
		FROM metric_definitions WHERE experiment_id = $1 ORDER BY is_primary DESC, name`, e.ID)

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	rows, err := br.Query()
	if err != nil {
		return fmt.Errorf("load experiment variants: %w", err)
	}
	e.Variants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Variant, error) {
		var v Variant
		err := row.Scan(&v.ID, &v.ExperimentID, &v.Name, &v.TrafficAllocation, &v.IsControl)
		return v, err
	})
	if err != nil {
		return fmt.Errorf("load experiment variants: %w", err)
	}

	rows, err = br.Query()
	if err != nil {
		return fmt.Errorf("load metric definitions: %w", err)
	}
	e.Metrics, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (MetricDefinition, error) {
		var m MetricDefinition
		var agg string
		err := row.Scan(&m.ID, &m.ExperimentID, &m.Name, &m.EventName, &agg, &m.IsPrimary)
		m.Aggregation = Aggregation(agg)
		return m, err
	})
	if err != nil {
		return fmt.Errorf("load metric definitions: %w", err)
	}
	return nil
}

func scanExperiment(row pgx.Row) (*Experiment, error) {
	var e Experiment
	var status string
	var flagID *uuid.UUID
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &flagID, &status, &e.StartDate, &e.EndDate,
		&e.Power, &e.ConfidenceLevel, &e.MinimumDetectableEffect, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if flagID != nil {
		e.FlagID = *flagID
	}
	e.Status = Status(status)
	return &e, nil
}
