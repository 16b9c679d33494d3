package db

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// DayCount is one day of call volume.
type DayCount struct {
	Day   string `db:"day"   json:"day"`
	Count int64  `db:"count" json:"count"`
}

// SentimentCount is the number of calls with one sentiment label.
type SentimentCount struct {
	OverallSentiment *string `db:"overall_sentiment" json:"overall_sentiment"`
	Count            int64   `db:"count"             json:"count"`
}

// TagCount is the number of occurrences of a conversation tag.
type TagCount struct {
	Tag   string `db:"tag"   json:"tag"`
	Count int64  `db:"count" json:"count"`
}

// Escalation is an escalation as listed on the agent view.
type Escalation struct {
	CallID           string    `db:"call_id"           json:"call_id"`
	EscalationReason *string   `db:"escalation_reason" json:"escalation_reason"`
	PossibleAction   *string   `db:"possible_action"   json:"possible_action"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
}

// RecentCall is a sentiment-analyzed call.
type RecentCall struct {
	CallID           string    `db:"call_id"           json:"call_id"`
	DurationSec      *float64  `db:"duration_sec"      json:"duration_sec"`
	Language         *string   `db:"language"          json:"language"`
	OverallSentiment *string   `db:"overall_sentiment" json:"overall_sentiment"`
	AnalyzedAt       time.Time `db:"analyzed_at"       json:"analyzed_at"`
}

// AgentInsight is a generated coaching summary for an agent.
type AgentInsight struct {
	UserID            string   `db:"user_id"             json:"user_id"`
	Strengths         JSONText `db:"strengths"           json:"strengths"`
	AreaOfImprovement JSONText `db:"area_of_improvement" json:"area_of_improvement"`
	ActionItems       JSONText `db:"action_items"        json:"action_items"`
}

// AgentPerformance summarizes one team member's calls.
type AgentPerformance struct {
	Name          string `db:"name"           json:"name"`
	TotalCalls    int64  `db:"total_calls"    json:"total_calls"`
	PositiveCalls int64  `db:"positive_calls" json:"positive_calls"`
	NegativeCalls int64  `db:"negative_calls" json:"negative_calls"`
}

// TagSentiment is one cell of the tag/sentiment heatmap.
type TagSentiment struct {
	Tag              string  `db:"tag"               json:"tag"`
	OverallSentiment *string `db:"overall_sentiment" json:"overall_sentiment"`
	Count            int64   `db:"count"             json:"count"`
}

// SupervisorEscalation is an escalation routed to a supervisor,
// with a human-readable status.
type SupervisorEscalation struct {
	CallID           string  `db:"call_id"           json:"call_id"`
	AgentID          string  `db:"agent_id"          json:"agent_id"`
	EscalationReason *string `db:"escalation_reason" json:"escalation_reason"`
	PossibleAction   *string `db:"possible_action"   json:"possible_action"`
	EscalationID     string  `db:"escalation_id"     json:"escalation_id"`
	Status           *string `db:"status"            json:"status"`
	Name             string  `db:"name"              json:"name"`
	StatusDisplay    string  `db:"status_display"    json:"status_display"`
}

// LeaderboardEntry is a row of the leaderboard snapshot.
type LeaderboardEntry struct {
	Name             string   `db:"name"              json:"name"`
	PositiveCalls    int64    `db:"positive_calls"    json:"positive_calls"`
	NegativeCalls    int64    `db:"negative_calls"    json:"negative_calls"`
	Rank             *int64   `db:"rank"              json:"rank"`
	PerformanceScore *float64 `db:"performance_score" json:"performance_score"`
}

// AgentComparison is one side of a two-agent comparison.
type AgentComparison struct {
	Name          string   `db:"name"           json:"name"`
	CallCount     int64    `db:"call_count"     json:"call_count"`
	AvgSentiment  *float64 `db:"avg_sentiment"  json:"avg_sentiment"`
	NegativeCalls int64    `db:"negative_calls" json:"negative_calls"`
}

// JSONText holds a column that may contain a JSON document or
// plain text. Objects and arrays are emitted as raw JSON, any
// other value as a JSON string.
type JSONText struct {
	Text  string
	Valid bool
}

// Scan implements sql.Scanner.
func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = JSONText{}
	case string:
		*j = JSONText{Text: v, Valid: true}
	case []byte:
		*j = JSONText{Text: string(v), Valid: true}
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding json column: %w", err)
		}
		*j = JSONText{Text: string(b), Valid: true}
	default:
		*j = JSONText{Text: fmt.Sprint(v), Valid: true}
	}
	return nil
}

// Value implements driver.Valuer.
func (j JSONText) Value() (driver.Value, error) {
	if !j.Valid {
		return nil, nil
	}
	return j.Text, nil
}

// MarshalJSON implements json.Marshaler.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if !j.Valid {
		return []byte("null"), nil
	}
	if gjson.Valid(j.Text) {
		if r := gjson.Parse(j.Text); r.IsObject() || r.IsArray() {
			var buf bytes.Buffer
			if err := json.Compact(&buf, []byte(r.Raw)); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
	}
	return json.Marshal(j.Text)
}
