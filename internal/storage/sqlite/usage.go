package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/storage"
)

// AppendUsageLog durably appends one immutable usage record.
func (s *Store) AppendUsageLog(ctx context.Context, l *gateway.UsageLog) error {
	var errMsg sql.NullString
	if l.ErrorMessage != "" {
		errMsg = sql.NullString{String: l.ErrorMessage, Valid: true}
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO usage_logs
			(id, user_id, key_prefix, model, endpoint, ip, ts,
			 input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, total_tokens,
			 cost_usd, is_cache_hit, is_estimated, processing_ms, error_message,
			 request_snapshot, response_snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.KeyPrefix, l.Model, l.Endpoint, l.IP, l.Timestamp.UTC().Format(time.RFC3339),
		l.InputTokens, l.OutputTokens, l.CacheReadTokens, l.CacheWriteTokens, l.TotalTokens,
		l.CostUSD, boolToInt(l.IsCacheHit), boolToInt(l.IsEstimated), l.ProcessingMs, errMsg,
		l.RequestSnapshot, l.ResponseSnapshot,
	)
	return err
}

// SumUsageWindow aggregates usage for a user within [start, end].
func (s *Store) SumUsageWindow(ctx context.Context, userID string, start, end time.Time) (storage.UsageWindow, error) {
	var w storage.UsageWindow
	w.UserID = userID
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0),
		        COALESCE(SUM(cache_read_tokens),0), COALESCE(SUM(cache_write_tokens),0),
		        COALESCE(SUM(cost_usd),0)
		 FROM usage_logs WHERE user_id = ? AND ts >= ? AND ts <= ?`,
		userID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	).Scan(&w.RequestCount, &w.InputTokens, &w.OutputTokens, &w.CacheReadTokens, &w.CacheWriteTokens, &w.CostUSD)
	return w, err
}
