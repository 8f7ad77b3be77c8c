// Package usage accumulates token and cost counters for agent turns,
// aggregated per session, per day and per week.
package usage

import (
	"fmt"
	"time"

	"github.com/conductor-dev/conductor/db"
	"github.com/conductor-dev/conductor/log"
)

// Stats is what one terminal agent result contributes to the ledger.
type Stats struct {
	Model        string  `json:"model,omitempty"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd,omitempty"`
	DurationMs   int64   `json:"durationMs"`
	ToolUses     int     `json:"toolUses"`
	FilesChanged int     `json:"filesChanged"`
}

// Totals is an aggregate over some window of usage events.
type Totals struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
	DurationMs   int64   `json:"durationMs"`
	ToolUseCount int     `json:"toolUseCount"`
	FilesChanged int     `json:"filesChanged"`
	TurnCount    int     `json:"turnCount"`
	LastModel    string  `json:"lastModel,omitempty"`
}

// Ledger records and aggregates usage in sqlite.
type Ledger struct {
	db *db.DB
}

// NewLedger creates a ledger over an open database.
func NewLedger(database *db.DB) *Ledger {
	return &Ledger{db: database}
}

// RecordUsage inserts one usage event for a session.
func (l *Ledger) RecordUsage(sessionID string, s Stats) error {
	_, err := l.db.Conn().Exec(`
		INSERT INTO usage_events
			(session_id, model, input_tokens, output_tokens, cost_usd, duration_ms, tool_uses, files_changed, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, s.Model, s.InputTokens, s.OutputTokens, s.CostUSD,
		s.DurationMs, s.ToolUses, s.FilesChanged, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	log.Debug().
		Str("session_id", sessionID).
		Int("input_tokens", s.InputTokens).
		Int("output_tokens", s.OutputTokens).
		Msg("usage recorded")
	return nil
}

// SessionUsage aggregates all events for one session.
func (l *Ledger) SessionUsage(sessionID string) (Totals, error) {
	return l.window("session_id = ?", sessionID)
}

// DayUsage aggregates events recorded since local midnight of the day
// containing t.
func (l *Ledger) DayUsage(t time.Time) (Totals, error) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return l.window("recorded_at >= ?", start.UnixMilli())
}

// WeekUsage aggregates events since the most recent Monday midnight.
func (l *Ledger) WeekUsage(t time.Time) (Totals, error) {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).
		AddDate(0, 0, -daysSinceMonday)
	return l.window("recorded_at >= ?", start.UnixMilli())
}

func (l *Ledger) window(where string, arg any) (Totals, error) {
	var t Totals
	row := l.db.Conn().QueryRow(`
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(duration_ms), 0),
			COALESCE(SUM(tool_uses), 0),
			COALESCE(SUM(files_changed), 0),
			COUNT(*)
		FROM usage_events WHERE `+where, arg)
	if err := row.Scan(
		&t.InputTokens, &t.OutputTokens, &t.CostUSD, &t.DurationMs,
		&t.ToolUseCount, &t.FilesChanged, &t.TurnCount,
	); err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	row = l.db.Conn().QueryRow(`
		SELECT model FROM usage_events
		WHERE `+where+` AND model != ''
		ORDER BY recorded_at DESC, id DESC LIMIT 1`, arg)
	if err := row.Scan(&t.LastModel); err != nil {
		// no model recorded yet
		t.LastModel = ""
	}
	return t, nil
}

// DeleteSession removes a session's usage rows. Used when a session is
// merged away; plain deletion keeps its history.
func (l *Ledger) DeleteSession(sessionID string) error {
	_, err := l.db.Conn().Exec("DELETE FROM usage_events WHERE session_id = ?", sessionID)
	return err
}
