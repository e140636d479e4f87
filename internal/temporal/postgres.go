package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/horizonlab/prospect/internal/api"
)

// PostgresStore keeps the event graph in Postgres. Events are append-only
// rows with a JSONB payload; links live in their own table so the caused-by
// and consequences lists are derived, never duplicated.
//
// Schema:
//
//	CREATE TABLE prospect_events (
//	  id         TEXT PRIMARY KEY,
//	  ts         TIMESTAMPTZ NOT NULL,
//	  payload    JSONB NOT NULL
//	);
//	CREATE INDEX idx_prospect_events_ts ON prospect_events(ts);
//
//	CREATE TABLE prospect_links (
//	  cause_id   TEXT NOT NULL REFERENCES prospect_events(id),
//	  effect_id  TEXT NOT NULL REFERENCES prospect_events(id),
//	  strength   DOUBLE PRECISION NOT NULL,
//	  PRIMARY KEY (cause_id, effect_id)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres, verifies the connection and
// creates the schema if it does not exist.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	ps := &PostgresStore{pool: pool}
	if err := ps.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ps, nil
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS prospect_events (
			id      TEXT PRIMARY KEY,
			ts      TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_prospect_events_ts ON prospect_events(ts);
		CREATE TABLE IF NOT EXISTS prospect_links (
			cause_id  TEXT NOT NULL REFERENCES prospect_events(id),
			effect_id TEXT NOT NULL REFERENCES prospect_events(id),
			strength  DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (cause_id, effect_id)
		);
	`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Append(ctx context.Context, ev *api.TemporalEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// ON CONFLICT DO NOTHING: append-only, first write wins.
	_, err = p.pool.Exec(ctx, `
		INSERT INTO prospect_events (id, ts, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("%w: postgres insert failed: %v", api.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*api.TemporalEvent, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `
		SELECT payload FROM prospect_events WHERE id = $1
	`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, api.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres query failed: %v", api.ErrStoreUnavailable, err)
	}

	ev, err := p.decode(payload)
	if err != nil {
		return nil, err
	}
	if err := p.attachLinks(ctx, []*api.TemporalEvent{ev}); err != nil {
		return nil, err
	}
	return ev, nil
}

func (p *PostgresStore) Before(ctx context.Context, t time.Time, window time.Duration, limit int) ([]*api.TemporalEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT payload FROM prospect_events
		WHERE ts < $1 AND ts >= $2
		ORDER BY ts DESC
		LIMIT $3
	`, t, t.Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres query failed: %v", api.ErrStoreUnavailable, err)
	}
	return p.collect(ctx, rows)
}

func (p *PostgresStore) Range(ctx context.Context, from, to time.Time) ([]*api.TemporalEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT payload FROM prospect_events
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres query failed: %v", api.ErrStoreUnavailable, err)
	}
	return p.collect(ctx, rows)
}

func (p *PostgresStore) All(ctx context.Context) ([]*api.TemporalEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT payload FROM prospect_events ORDER BY ts ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres query failed: %v", api.ErrStoreUnavailable, err)
	}
	return p.collect(ctx, rows)
}

func (p *PostgresStore) AddLink(ctx context.Context, causeID, effectID string, strength float64) error {
	if causeID == effectID {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO prospect_links (cause_id, effect_id, strength)
		VALUES ($1, $2, $3)
		ON CONFLICT (cause_id, effect_id) DO NOTHING
	`, causeID, effectID, strength)
	if err != nil {
		return fmt.Errorf("%w: postgres link insert failed: %v", api.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) LinkStrength(ctx context.Context, causeID, effectID string) (float64, bool, error) {
	var s float64
	err := p.pool.QueryRow(ctx, `
		SELECT strength FROM prospect_links WHERE cause_id = $1 AND effect_id = $2
	`, causeID, effectID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: postgres query failed: %v", api.ErrStoreUnavailable, err)
	}
	return s, true, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) decode(payload []byte) (*api.TemporalEvent, error) {
	var ev api.TemporalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	// Link lists are authoritative in prospect_links.
	ev.CausedBy = nil
	ev.Consequences = nil
	return &ev, nil
}

func (p *PostgresStore) collect(ctx context.Context, rows pgx.Rows) ([]*api.TemporalEvent, error) {
	defer rows.Close()

	var out []*api.TemporalEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: postgres scan failed: %v", api.ErrStoreUnavailable, err)
		}
		ev, err := p.decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: postgres rows failed: %v", api.ErrStoreUnavailable, err)
	}
	if err := p.attachLinks(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachLinks fills CausedBy/Consequences for the given events in one
// round trip over the links table.
func (p *PostgresStore) attachLinks(ctx context.Context, events []*api.TemporalEvent) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, len(events))
	byID := make(map[string]*api.TemporalEvent, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
		byID[ev.ID] = ev
	}

	rows, err := p.pool.Query(ctx, `
		SELECT cause_id, effect_id FROM prospect_links
		WHERE cause_id = ANY($1) OR effect_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("%w: postgres links query failed: %v", api.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var causeID, effectID string
		if err := rows.Scan(&causeID, &effectID); err != nil {
			return fmt.Errorf("%w: postgres scan failed: %v", api.ErrStoreUnavailable, err)
		}
		if ev, ok := byID[causeID]; ok {
			ev.Consequences = append(ev.Consequences, effectID)
		}
		if ev, ok := byID[effectID]; ok {
			ev.CausedBy = append(ev.CausedBy, causeID)
		}
	}
	return rows.Err()
}
