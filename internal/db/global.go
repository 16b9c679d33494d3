package db

import (
	"context"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// Leaderboard returns the top of the leaderboard snapshot in
// rank order.
func (db *DB) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	out := []LeaderboardEntry{}
	err := db.run(ctx, qLeaderboard, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q)
	})
	return out, err
}

// CompareAgents returns call statistics for two agents side by
// side. Agents without calls are absent from the result.
func (db *DB) CompareAgents(
	ctx context.Context, agent1, agent2 string,
) ([]AgentComparison, error) {
	out := []AgentComparison{}
	err := db.run(ctx, qCompareAgents, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, agent1, agent2)
	})
	return out, err
}

func (db *DB) CallCountByTag(ctx context.Context) ([]TagCount, error) {
	out := []TagCount{}
	err := db.run(ctx, qCallCountByTag, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q)
	})
	return out, err
}

// EscalationByTag counts tags over calls that were escalated.
func (db *DB) EscalationByTag(ctx context.Context) ([]TagCount, error) {
	out := []TagCount{}
	err := db.run(ctx, qEscalationByTag, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q)
	})
	return out, err
}
