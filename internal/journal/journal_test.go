package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gannquant/tradecore/internal/mode"
)

func newMockJournal(t *testing.T) (*Journal, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestLogTransition(t *testing.T) {
	j, mock := newMockJournal(t)

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO mode_transitions").
		WithArgs(ts, 1, 3, "enable ai", "user").
		WillReturnResult(sqlmock.NewResult(1, 1))

	j.LogTransition(mode.TransitionEvent{
		Timestamp:   ts,
		From:        mode.Hybrid,
		To:          mode.AIAssisted,
		Reason:      "enable ai",
		InitiatedBy: "user",
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogTransitionSwallowsFailure(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec("INSERT INTO mode_transitions").
		WillReturnError(errors.New("connection lost"))

	// must not panic or propagate
	j.LogTransition(mode.TransitionEvent{From: mode.Hybrid, To: mode.RuleOnly})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogSubmission(t *testing.T) {
	j, mock := newMockJournal(t)

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO order_submissions").
		WithArgs(ts, "ord-1", "BTCUSDT", "BUY", 0.01, 50000.0, "submitted", 1, 42.5, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	j.LogSubmission(SubmissionRow{
		OccurredAt: ts,
		OrderID:    "ord-1",
		Symbol:     "BTCUSDT",
		Side:       "BUY",
		Quantity:   0.01,
		Price:      50000,
		Status:     "submitted",
		Attempts:   1,
		LatencyMs:  42.5,
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogSubmissionDefaultsTimestamp(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec("INSERT INTO order_submissions").
		WithArgs(sqlmock.AnyArg(), "ord-2", "ETHUSDT", "SELL", 1.0, 3000.0, "failed", 3, 0.0, "timeout").
		WillReturnResult(sqlmock.NewResult(1, 1))

	j.LogSubmission(SubmissionRow{
		OrderID:  "ord-2",
		Symbol:   "ETHUSDT",
		Side:     "SELL",
		Quantity: 1,
		Price:    3000,
		Status:   "failed",
		Attempts: 3,
		Detail:   "timeout",
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentTransitions(t *testing.T) {
	j, mock := newMockJournal(t)

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "occurred_at", "from_mode", "to_mode", "reason", "initiated_by"}).
		AddRow(2, ts, 3, 0, "EMERGENCY: breaker", "emergency").
		AddRow(1, ts.Add(-time.Hour), 1, 3, "enable ai", "user")
	mock.ExpectQuery("SELECT (.+) FROM mode_transitions").
		WithArgs(10).
		WillReturnRows(rows)

	got, err := j.RecentTransitions(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].FromMode)
	assert.Equal(t, 0, got[0].ToMode)
	assert.Equal(t, "emergency", got[0].InitiatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentTransitionsDefaultLimit(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectQuery("SELECT (.+) FROM mode_transitions").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "from_mode", "to_mode", "reason", "initiated_by"}))

	_, err := j.RecentTransitions(0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModeObserverPersistsTransitions(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec("INSERT INTO mode_transitions").
		WithArgs(sqlmock.AnyArg(), 1, 2, "regime shift", "observer").
		WillReturnResult(sqlmock.NewResult(1, 1))

	obs := NewModeObserver(j)
	assert.Equal(t, "journal", obs.Name())
	require.NoError(t, obs.OnModeChange(mode.Hybrid, mode.MLDominant, "regime shift"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
