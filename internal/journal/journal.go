// Package journal persists the control plane's audit trail: mode
// transitions and order submissions. Journal failures are degraded, never
// fatal to the trading path.
package journal

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/gannquant/tradecore/internal/mode"
)

const schema = `
CREATE TABLE IF NOT EXISTS mode_transitions (
	id           BIGSERIAL PRIMARY KEY,
	occurred_at  TIMESTAMPTZ NOT NULL,
	from_mode    INT NOT NULL,
	to_mode      INT NOT NULL,
	reason       TEXT NOT NULL,
	initiated_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_submissions (
	id            BIGSERIAL PRIMARY KEY,
	occurred_at   TIMESTAMPTZ NOT NULL,
	order_id      TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	quantity      DOUBLE PRECISION NOT NULL,
	price         DOUBLE PRECISION NOT NULL,
	status        TEXT NOT NULL,
	attempts      INT NOT NULL,
	latency_ms    DOUBLE PRECISION NOT NULL,
	detail        TEXT NOT NULL DEFAULT ''
);
`

// TransitionRow is one persisted mode transition.
type TransitionRow struct {
	ID          int64     `db:"id"`
	OccurredAt  time.Time `db:"occurred_at"`
	FromMode    int       `db:"from_mode"`
	ToMode      int       `db:"to_mode"`
	Reason      string    `db:"reason"`
	InitiatedBy string    `db:"initiated_by"`
}

// SubmissionRow is one persisted order submission outcome.
type SubmissionRow struct {
	ID         int64     `db:"id"`
	OccurredAt time.Time `db:"occurred_at"`
	OrderID    string    `db:"order_id"`
	Symbol     string    `db:"symbol"`
	Side       string    `db:"side"`
	Quantity   float64   `db:"quantity"`
	Price      float64   `db:"price"`
	Status     string    `db:"status"`
	Attempts   int       `db:"attempts"`
	LatencyMs  float64   `db:"latency_ms"`
	Detail     string    `db:"detail"`
}

// Journal writes audit rows to Postgres via sqlx.
type Journal struct {
	db *sqlx.DB
}

// Open connects to Postgres and ensures the schema exists.
func Open(dsn string) (*Journal, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	j := &Journal{db: db}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewWithDB wraps an existing connection (used by tests with sqlmock).
func NewWithDB(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) ensureSchema() error {
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("journal: ensure schema: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (j *Journal) Close() error { return j.db.Close() }

// LogTransition records one mode transition. Failures are logged and
// swallowed (degraded persistence semantics).
func (j *Journal) LogTransition(event mode.TransitionEvent) {
	_, err := j.db.Exec(
		`INSERT INTO mode_transitions (occurred_at, from_mode, to_mode, reason, initiated_by)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.Timestamp, int(event.From), int(event.To), event.Reason, event.InitiatedBy,
	)
	if err != nil {
		log.Error().Err(err).Msg("journal: failed to persist mode transition")
	}
}

// LogSubmission records one order submission outcome. Failures are logged
// and swallowed.
func (j *Journal) LogSubmission(row SubmissionRow) {
	if row.OccurredAt.IsZero() {
		row.OccurredAt = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT INTO order_submissions
		 (occurred_at, order_id, symbol, side, quantity, price, status, attempts, latency_ms, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.OccurredAt, row.OrderID, row.Symbol, row.Side, row.Quantity, row.Price,
		row.Status, row.Attempts, row.LatencyMs, row.Detail,
	)
	if err != nil {
		log.Error().Err(err).Msg("journal: failed to persist order submission")
	}
}

// RecentTransitions returns the latest mode transitions, newest first.
func (j *Journal) RecentTransitions(limit int) ([]TransitionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []TransitionRow
	err := j.db.Select(&rows,
		`SELECT id, occurred_at, from_mode, to_mode, reason, initiated_by
		 FROM mode_transitions ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent transitions: %w", err)
	}
	return rows, nil
}

// ModeObserver adapts the journal to the ModeController observer contract.
type ModeObserver struct {
	journal *Journal
}

// NewModeObserver returns an observer persisting every transition.
func NewModeObserver(j *Journal) *ModeObserver { return &ModeObserver{journal: j} }

func (o *ModeObserver) Name() string { return "journal" }

func (o *ModeObserver) OnModeChange(from, to mode.Mode, reason string) error {
	o.journal.LogTransition(mode.TransitionEvent{
		Timestamp:   time.Now().UTC(),
		From:        from,
		To:          to,
		Reason:      reason,
		InitiatedBy: "observer",
		Success:     true,
	})
	return nil
}
