package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sawpanic/moverun/internal/domain/market"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite3"
)

// Store implements SamplesRepo and MovementsRepo over Postgres or SQLite
type Store struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
}

var (
	_ SamplesRepo   = (*Store)(nil)
	_ MovementsRepo = (*Store)(nil)
)

// ParseDSN picks the driver from the DSN. postgres:// and postgresql://
// use lib/pq; sqlite:// or a bare path use go-sqlite3.
func ParseDSN(dsn string) (driver, source string, err error) {
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("empty database dsn")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.Contains(dsn, "://"):
		return "", "", fmt.Errorf("unsupported database scheme in %q", dsn)
	default:
		return driverSQLite, dsn, nil
	}
}

// Open connects and verifies the database. timeout bounds each query.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*Store, error) {
	driver, src, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, driver, src)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == driverSQLite {
		// one connection so :memory: databases are shared and writes serialize
		db.SetMaxOpenConns(1)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, driver: driver, timeout: timeout}, nil
}

// Driver returns the sql driver name in use
func (s *Store) Driver() string { return s.driver }

// Close releases the pool
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stmts := schemaSQLite
	if s.driver == driverPostgres {
		stmts = schemaPostgres
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveSample appends one price sample
func (s *Store) SaveSample(ctx context.Context, sample market.PriceSample) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := s.db.Rebind(`INSERT INTO price_samples (symbol, price, observed_at, source_id) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, string(sample.Symbol), sample.Price.String(), sample.ObservedAt.UTC(), sample.SourceID); err != nil {
		return fmt.Errorf("save sample %s: %w", sample.Symbol, err)
	}
	return nil
}

// ListSamples returns samples for symbol in tr, oldest first
func (s *Store) ListSamples(ctx context.Context, symbol market.Symbol, tr TimeRange, limit int) ([]SampleRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if limit <= 0 {
		limit = 1000
	}

	q := s.db.Rebind(`SELECT id, symbol, price, observed_at, source_id FROM price_samples
		WHERE symbol = ? AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at ASC, id ASC LIMIT ?`)
	var rows []SampleRow
	if err := s.db.SelectContext(ctx, &rows, q, string(symbol), tr.From.UTC(), tr.To.UTC(), limit); err != nil {
		return nil, fmt.Errorf("list samples %s: %w", symbol, err)
	}
	return rows, nil
}

// SaveMovement stores rec once; repeated saves of the same id are ignored
func (s *Store) SaveMovement(ctx context.Context, rec market.MovementRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal movement %s: %w", rec.Movement.ID, err)
	}
	ev := rec.Movement
	q := s.db.Rebind(`INSERT INTO movements
		(id, symbol, classification, change_pct, current_price, reference_price, detected_at, candidates, confidence, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err = s.db.ExecContext(ctx, q,
		ev.ID, string(ev.Symbol), string(ev.Classification), ev.ChangePercent,
		ev.CurrentPrice.String(), ev.ReferencePrice.String(), ev.DetectedAt.UTC(),
		len(rec.Correlation.Candidates), rec.Correlation.Confidence, string(data),
	)
	if err != nil {
		return fmt.Errorf("save movement %s: %w", ev.ID, err)
	}
	return nil
}

// SaveExplanation attaches an explanation to a stored movement
func (s *Store) SaveExplanation(ctx context.Context, e market.Explanation) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := s.db.Rebind(`UPDATE movements SET explanation_text = ?, explanation_confidence = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, e.Text, e.Confidence, e.MovementID)
	if err != nil {
		return fmt.Errorf("save explanation %s: %w", e.MovementID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save explanation: movement %s not found", e.MovementID)
	}
	return nil
}

// RecentMovements returns the newest movements first. An empty symbol
// matches all symbols.
func (s *Store) RecentMovements(ctx context.Context, symbol market.Symbol, limit int) ([]MovementRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}

	base := `SELECT id, symbol, classification, change_pct, current_price, reference_price, detected_at,
		candidates, confidence, record, explanation_text, explanation_confidence FROM movements`
	var (
		q    string
		args []interface{}
	)
	if symbol != "" {
		q = base + ` WHERE symbol = ? ORDER BY detected_at DESC, id DESC LIMIT ?`
		args = []interface{}{string(symbol), limit}
	} else {
		q = base + ` ORDER BY detected_at DESC, id DESC LIMIT ?`
		args = []interface{}{limit}
	}

	var rows []MovementRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("recent movements: %w", err)
	}
	return rows, nil
}

// Decode returns the full stored record
func (r MovementRow) Decode() (market.MovementRecord, error) {
	var rec market.MovementRecord
	err := json.Unmarshal([]byte(r.Record), &rec)
	return rec, err
}

// Health pings the database
func (s *Store) Health(ctx context.Context) HealthCheck {
	start := time.Now()
	hc := HealthCheck{Driver: s.driver, LastCheck: start}
	if err := s.db.PingContext(ctx); err != nil {
		hc.Errors = append(hc.Errors, err.Error())
	} else {
		hc.Healthy = true
	}
	hc.OpenConns = s.db.Stats().OpenConnections
	hc.ResponseTimeMS = time.Since(start).Milliseconds()
	return hc
}
