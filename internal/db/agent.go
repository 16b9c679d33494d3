package db

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// WeeklyVolume returns the agent's analyzed calls per day over
// the trailing week, oldest day first. Days with no calls are
// omitted.
func (db *DB) WeeklyVolume(
	ctx context.Context, agentID string,
) ([]DayCount, error) {
	out := []DayCount{}
	err := db.run(ctx, qWeeklyVolume, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, agentID)
	})
	return out, err
}

// PerformanceScore returns the agent's average sentiment weight
// for the current month, or nil when the agent has no calls
// analyzed this month.
func (db *DB) PerformanceScore(
	ctx context.Context, agentID string,
) (*float64, error) {
	var score sql.NullFloat64
	err := db.run(ctx, qPerformanceScore, func(ctx context.Context, q string) error {
		return sqlscan.Get(ctx, db.reader, &score, q, agentID)
	})
	if err != nil || !score.Valid {
		return nil, err
	}
	return &score.Float64, nil
}

// LeaderboardRank returns the agent's dense rank by call volume
// this month, or nil when the agent has no calls this month.
func (db *DB) LeaderboardRank(
	ctx context.Context, agentID string,
) (*int64, error) {
	var (
		rank  int64
		found bool
	)
	err := db.run(ctx, qLeaderboardRank, func(ctx context.Context, q string) error {
		err := sqlscan.Get(ctx, db.reader, &rank, q, agentID)
		if sqlscan.NotFound(err) {
			found = false
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &rank, nil
}

// SentimentDistribution counts the agent's calls per sentiment
// label over its whole history.
func (db *DB) SentimentDistribution(
	ctx context.Context, agentID string,
) ([]SentimentCount, error) {
	out := []SentimentCount{}
	err := db.run(ctx, qSentimentDistribution, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, agentID)
	})
	return out, err
}

// TopCallTags returns the agent's most frequent conversation tags.
func (db *DB) TopCallTags(
	ctx context.Context, agentID string,
) ([]TagCount, error) {
	out := []TagCount{}
	err := db.run(ctx, qTopCallTags, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, agentID)
	})
	return out, err
}

// RecentEscalations returns the newest escalations raised
// against the agent.
func (db *DB) RecentEscalations(
	ctx context.Context, agentID string,
) ([]Escalation, error) {
	out := []Escalation{}
	err := db.run(ctx, qRecentEscalations, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, agentID)
	})
	return out, err
}

// RecentCalls returns the agent's most recently analyzed calls.
func (db *DB) RecentCalls(
	ctx context.Context, agentID string,
) ([]RecentCall, error) {
	out := []RecentCall{}
	err := db.run(ctx, qRecentCalls, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, agentID)
	})
	return out, err
}

// CallsToday counts the agent's calls analyzed today.
func (db *DB) CallsToday(
	ctx context.Context, agentID string,
) (int64, error) {
	return db.count(ctx, qCallsToday, agentID)
}

// AgentInsights returns the generated insights for an agent.
func (db *DB) AgentInsights(
	ctx context.Context, agentID string,
) ([]AgentInsight, error) {
	out := []AgentInsight{}
	err := db.run(ctx, qAgentInsights, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, agentID)
	})
	return out, err
}

// count runs a single-column COUNT query.
func (db *DB) count(
	ctx context.Context, name string, args ...any,
) (int64, error) {
	var n int64
	err := db.run(ctx, name, func(ctx context.Context, q string) error {
		return sqlscan.Get(ctx, db.reader, &n, q, args...)
	})
	return n, err
}
