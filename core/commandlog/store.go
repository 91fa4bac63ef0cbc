// Package commandlog keeps an audit trail of roaming commands that reached a
// terminal state.
package commandlog

import (
	"context"
	"time"

	"github.com/kilianp07/roamgate/core/model"
)

// Query filters records. Zero values match everything.
type Query struct {
	TenantID string
	Type     model.CommandType
	Since    time.Time
	Until    time.Time
	// Limit keeps the most recent entries when positive.
	Limit int
}

// Store persists command records.
type Store interface {
	Append(ctx context.Context, rec model.CommandRecord) error
	Query(ctx context.Context, q Query) ([]model.CommandRecord, error)
	Close() error
}

// Match reports whether rec passes the filters of q other than Limit.
func (q Query) Match(rec model.CommandRecord) bool {
	if q.TenantID != "" && rec.TenantID != q.TenantID {
		return false
	}
	if q.Type != "" && rec.Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && rec.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// limit trims recs, assumed in chronological order, to the last n entries.
func limit(recs []model.CommandRecord, n int) []model.CommandRecord {
	if n > 0 && len(recs) > n {
		return recs[len(recs)-n:]
	}
	return recs
}
