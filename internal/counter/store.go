package counter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/tally/internal/counter/mixture"
)

// JournalEntry is one persisted delta.
type JournalEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Delta
}

// JournalStore provides database access for the delta journal.
type JournalStore struct {
	db *sql.DB
}

// NewJournalStore creates a JournalStore backed by the given database.
func NewJournalStore(db *sql.DB) *JournalStore {
	return &JournalStore{db: db}
}

// Insert appends a delta to the journal.
func (s *JournalStore) Insert(ctx context.Context, sessionID string, d *Delta, at time.Time) error {
	var categoryID sql.NullInt64
	if d.CategoryID != 0 {
		categoryID = sql.NullInt64{Int64: int64(d.CategoryID), Valid: true}
	}
	var score sql.NullFloat64
	if d.Score != nil {
		score = sql.NullFloat64{Float64: *d.Score, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counter_deltas (
			session_id, value, baseline, action, category_id,
			estimate, score, total, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, d.Value, d.Baseline, string(d.Action), categoryID,
		d.Estimate, score, d.Total, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert delta: %w", err)
	}
	return nil
}

// List returns the most recent journal entries, newest first. An empty
// sessionID lists all sessions.
func (s *JournalStore) List(ctx context.Context, sessionID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, value, baseline, action, category_id,
			estimate, score, total, created_at
		FROM counter_deltas`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deltas: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e          JournalEntry
			action     string
			categoryID sql.NullInt64
			score      sql.NullFloat64
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Value, &e.Baseline, &action, &categoryID,
			&e.Estimate, &score, &e.Total, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delta row: %w", err)
		}
		e.Action = mixture.Action(action)
		if categoryID.Valid {
			e.CategoryID = int(categoryID.Int64)
		}
		if score.Valid {
			v := score.Float64
			e.Score = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes entries created before cutoff.
func (s *JournalStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM counter_deltas WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old deltas: %w", err)
	}
	return res.RowsAffected()
}
