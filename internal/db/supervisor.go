package db

import (
	"context"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// A supervisor's team is every user whose supervisor_id names it.

// TeamCallsToday counts the team's calls analyzed today.
func (db *DB) TeamCallsToday(
	ctx context.Context, supervisorID string,
) (int64, error) {
	return db.count(ctx, qTeamCallsToday, supervisorID)
}

// TeamWeeklyCalls counts the team's calls analyzed over the
// trailing week.
func (db *DB) TeamWeeklyCalls(
	ctx context.Context, supervisorID string,
) (int64, error) {
	return db.count(ctx, qTeamWeeklyCalls, supervisorID)
}

// MonthlyEscalations counts escalations routed to the supervisor
// this month.
func (db *DB) MonthlyEscalations(
	ctx context.Context, supervisorID string,
) (int64, error) {
	return db.count(ctx, qMonthlyEscalations, supervisorID)
}

func (db *DB) AgentPerformance(
	ctx context.Context, supervisorID string,
) ([]AgentPerformance, error) {
	out := []AgentPerformance{}
	err := db.run(ctx, qAgentPerformance, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, supervisorID)
	})
	return out, err
}

// TagSentimentHeatmap breaks the team's most frequent tags down
// by sentiment label.
func (db *DB) TagSentimentHeatmap(
	ctx context.Context, supervisorID string,
) ([]TagSentiment, error) {
	out := []TagSentiment{}
	err := db.run(ctx, qTagSentimentHeatmap, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, supervisorID)
	})
	return out, err
}

func (db *DB) TeamSentiment(
	ctx context.Context, supervisorID string,
) ([]SentimentCount, error) {
	out := []SentimentCount{}
	err := db.run(ctx, qTeamSentiment, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, supervisorID)
	})
	return out, err
}

// SupervisorEscalations lists escalations routed to the
// supervisor, ordered by call id.
func (db *DB) SupervisorEscalations(
	ctx context.Context, supervisorID string,
) ([]SupervisorEscalation, error) {
	out := []SupervisorEscalation{}
	err := db.run(ctx, qSupervisorEscalations, func(ctx context.Context, q string) error {
		out = out[:0]
		return sqlscan.Select(ctx, db.reader, &out, q, supervisorID)
	})
	return out, err
}
