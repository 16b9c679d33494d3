package db

import (
	"fmt"
	"strings"
	"text/template"
)

// Query names double as metric labels.
const (
	qWeeklyVolume          = "weekly_volume"
	qPerformanceScore      = "performance_score"
	qLeaderboardRank       = "leaderboard_rank"
	qSentimentDistribution = "sentiment_distribution"
	qTopCallTags           = "top_call_tags"
	qRecentEscalations     = "recent_escalations"
	qRecentCalls           = "recent_calls"
	qCallsToday            = "calls_today"
	qAgentInsights         = "agent_insights"

	qTeamCallsToday        = "team_calls_today"
	qTeamWeeklyCalls       = "team_weekly_calls"
	qMonthlyEscalations    = "monthly_escalations"
	qAgentPerformance      = "agent_performance"
	qTagSentimentHeatmap   = "tag_sentiment_heatmap"
	qTeamSentiment         = "team_sentiment"
	qSupervisorEscalations = "supervisor_escalations"

	qLeaderboard     = "leaderboard"
	qCompareAgents   = "compare_agents"
	qCallCountByTag  = "call_count_by_tag"
	qEscalationByTag = "escalation_by_tag"
)

// Result limits.
const (
	topTagsLimit               = 5
	recentEscalationsLimit     = 4
	recentCallsLimit           = 5
	heatmapTagsLimit           = 6
	supervisorEscalationsLimit = 10
	leaderboardLimit           = 15
	callCountByTagLimit        = 20
	escalationByTagLimit       = 10
	weekWindowDays             = 7
)

// sentimentWeight maps a call's label to its performance weight;
// anything not positive or neutral weighs zero.
const sentimentWeight = `CASE cs.overall_sentiment
		WHEN 'positive' THEN 1.0
		WHEN 'neutral' THEN 0.5
		ELSE 0.0 END`

// queryTemplates holds every read query. Agent and supervisor
// identifiers are always bound as parameters.
var queryTemplates = map[string]string{
	qWeeklyVolume: `
		SELECT {{dayLabel "cs.analyzed_at"}} AS day, COUNT(*) AS count
		FROM {{table "call_sentiments"}} cs
		JOIN {{table "calls"}} c ON cs.call_id = c.call_id
		WHERE c.user_id = ?
		  AND DATE(cs.analyzed_at) >= {{weekStart}}
		  AND DATE(cs.analyzed_at) <= {{today}}
		GROUP BY day
		ORDER BY day`,

	qPerformanceScore: `
		SELECT CAST(ROUND(AVG(` + sentimentWeight + `), 2) AS DOUBLE PRECISION) AS score
		FROM {{table "calls"}} c
		JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
		WHERE c.user_id = ?
		  AND DATE(cs.analyzed_at) >= {{monthStart}}
		  AND DATE(cs.analyzed_at) < {{nextMonthStart}}`,

	qLeaderboardRank: `
		WITH volumes AS (
			SELECT c.user_id, COUNT(*) AS call_volume
			FROM {{table "calls"}} c
			JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
			WHERE DATE(cs.analyzed_at) >= {{monthStart}}
			  AND DATE(cs.analyzed_at) < {{nextMonthStart}}
			GROUP BY c.user_id
		),
		ranked AS (
			SELECT user_id,
				DENSE_RANK() OVER (ORDER BY call_volume DESC) AS volume_rank
			FROM volumes
		)
		SELECT volume_rank FROM ranked WHERE user_id = ?`,

	qSentimentDistribution: `
		SELECT cs.overall_sentiment, COUNT(*) AS count
		FROM {{table "call_sentiments"}} cs
		JOIN {{table "calls"}} c ON cs.call_id = c.call_id
		WHERE c.user_id = ?
		GROUP BY cs.overall_sentiment
		ORDER BY cs.overall_sentiment`,

	qTopCallTags: `
		SELECT t.value AS tag, COUNT(*) AS count
		FROM {{table "call_sentiments"}} cs
		JOIN {{table "calls"}} c ON cs.call_id = c.call_id
		{{tagJoin "cs.conversation_tags"}}
		WHERE c.user_id = ?
		GROUP BY t.value
		ORDER BY count DESC, tag
		LIMIT {{limit "top_tags"}}`,

	qRecentEscalations: `
		SELECT e.call_id, e.escalation_reason, e.possible_action, e.created_at
		FROM {{table "escalations"}} e
		WHERE e.agent_id = ?
		ORDER BY e.created_at DESC
		LIMIT {{limit "recent_escalations"}}`,

	qRecentCalls: `
		SELECT c.call_id, c.duration_sec, c.language,
			cs.overall_sentiment, cs.analyzed_at
		FROM {{table "calls"}} c
		JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
		WHERE c.user_id = ?
		ORDER BY cs.analyzed_at DESC
		LIMIT {{limit "recent_calls"}}`,

	qCallsToday: `
		SELECT COUNT(*) AS count
		FROM {{table "calls"}} c
		JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
		WHERE c.user_id = ?
		  AND DATE(cs.analyzed_at) = {{today}}`,

	qAgentInsights: `
		SELECT user_id, strengths, area_of_improvement, action_items
		FROM {{table "agents_ai_insights"}}
		WHERE user_id = ?`,

	qTeamCallsToday: `
		SELECT COUNT(*) AS count
		FROM {{table "calls"}} c
		JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
		JOIN {{table "users"}} u ON u.user_id = c.user_id
		WHERE u.supervisor_id = ?
		  AND DATE(cs.analyzed_at) = {{today}}`,

	qTeamWeeklyCalls: `
		SELECT COUNT(*) AS count
		FROM {{table "calls"}} c
		JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
		JOIN {{table "users"}} u ON u.user_id = c.user_id
		WHERE u.supervisor_id = ?
		  AND DATE(cs.analyzed_at) >= {{weekStart}}
		  AND DATE(cs.analyzed_at) <= {{today}}`,

	qMonthlyEscalations: `
		SELECT COUNT(*) AS count
		FROM {{table "escalations"}} e
		WHERE e.supervisor_id = ?
		  AND DATE(e.created_at) >= {{monthStart}}
		  AND DATE(e.created_at) < {{nextMonthStart}}`,

	qAgentPerformance: `
		SELECT u.name,
			COUNT(cs.call_id) AS total_calls,
			SUM(CASE WHEN cs.overall_sentiment = 'positive' THEN 1 ELSE 0 END) AS positive_calls,
			SUM(CASE WHEN cs.overall_sentiment = 'negative' THEN 1 ELSE 0 END) AS negative_calls
		FROM {{table "users"}} u
		JOIN {{table "calls"}} c ON u.user_id = c.user_id
		JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
		WHERE u.supervisor_id = ?
		GROUP BY u.user_id, u.name
		ORDER BY u.name`,

	qTagSentimentHeatmap: `
		WITH team_tags AS (
			SELECT t.value AS tag, cs.overall_sentiment
			FROM {{table "call_sentiments"}} cs
			JOIN {{table "calls"}} c ON cs.call_id = c.call_id
			JOIN {{table "users"}} u ON u.user_id = c.user_id
			{{tagJoin "cs.conversation_tags"}}
			WHERE u.supervisor_id = ?
		),
		top_tags AS (
			SELECT tag FROM team_tags
			GROUP BY tag
			ORDER BY COUNT(*) DESC, tag
			LIMIT {{limit "heatmap_tags"}}
		)
		SELECT tag, overall_sentiment, COUNT(*) AS count
		FROM team_tags
		WHERE tag IN (SELECT tag FROM top_tags)
		GROUP BY tag, overall_sentiment
		ORDER BY tag, overall_sentiment`,

	qTeamSentiment: `
		SELECT cs.overall_sentiment, COUNT(*) AS count
		FROM {{table "call_sentiments"}} cs
		JOIN {{table "calls"}} c ON cs.call_id = c.call_id
		JOIN {{table "users"}} u ON u.user_id = c.user_id
		WHERE u.supervisor_id = ?
		GROUP BY cs.overall_sentiment
		ORDER BY cs.overall_sentiment`,

	qSupervisorEscalations: `
		SELECT e.call_id, e.agent_id, e.escalation_reason, e.possible_action,
			e.escalation_id, e.status, u.name,
			CASE
				WHEN e.status = 'Closed' THEN 'Resolved'
				WHEN e.status = 'Open' AND DATE(e.created_at) = {{today}}
					THEN 'Open today'
				WHEN e.status = 'Open' AND DATE(e.created_at) < {{today}}
					THEN 'Not actioned since ' || {{daysSince "e.created_at"}} || ' days'
				WHEN e.status <> 'Closed' AND e.last_actioned_at IS NOT NULL
					THEN 'Last actioned ' || {{daysSince "e.last_actioned_at"}} || ' days ago'
				ELSE 'Status Unknown'
			END AS status_display
		FROM {{table "escalations"}} e
		JOIN {{table "users"}} u ON u.user_id = e.agent_id
		WHERE e.supervisor_id = ?
		ORDER BY e.call_id
		LIMIT {{limit "supervisor_escalations"}}`,

	qLeaderboard: `
		SELECT l.user_name AS name, l.positive_calls, l.negative_calls,
			l."rank" AS rank,
			CAST(l.performance_score AS DOUBLE PRECISION) AS performance_score
		FROM {{table "leaderboard"}} l
		ORDER BY l."rank"
		LIMIT {{limit "leaderboard"}}`,

	qCompareAgents: `
		SELECT u.name,
			COUNT(cs.call_id) AS call_count,
			CAST(AVG(cs.sentiment_score) AS DOUBLE PRECISION) AS avg_sentiment,
			SUM(CASE WHEN cs.overall_sentiment = 'negative' THEN 1 ELSE 0 END) AS negative_calls
		FROM {{table "users"}} u
		JOIN {{table "calls"}} c ON u.user_id = c.user_id
		JOIN {{table "call_sentiments"}} cs ON c.call_id = cs.call_id
		WHERE u.user_id IN (?, ?)
		GROUP BY u.user_id, u.name
		ORDER BY u.name`,

	qCallCountByTag: `
		SELECT t.value AS tag, COUNT(*) AS count
		FROM {{table "call_sentiments"}} cs
		{{tagJoin "cs.conversation_tags"}}
		GROUP BY t.value
		ORDER BY count DESC, tag
		LIMIT {{limit "call_count_by_tag"}}`,

	qEscalationByTag: `
		SELECT t.value AS tag, COUNT(*) AS count
		FROM {{table "call_sentiments"}} cs
		JOIN {{table "escalations"}} e ON cs.call_id = e.call_id
		{{tagJoin "cs.conversation_tags"}}
		GROUP BY t.value
		ORDER BY count DESC, tag
		LIMIT {{limit "escalation_by_tag"}}`,
}

var limits = map[string]int{
	"top_tags":               topTagsLimit,
	"recent_escalations":     recentEscalationsLimit,
	"recent_calls":           recentCallsLimit,
	"heatmap_tags":           heatmapTagsLimit,
	"supervisor_escalations": supervisorEscalationsLimit,
	"leaderboard":            leaderboardLimit,
	"call_count_by_tag":      callCountByTagLimit,
	"escalation_by_tag":      escalationByTagLimit,
}

// renderQueries expands every template for d and rebinds its
// placeholders.
func renderQueries(d Dialect) (map[string]string, error) {
	funcs := template.FuncMap{
		"table":          d.Table,
		"today":          d.Today,
		"weekStart":      func() string { return d.DaysAgo(weekWindowDays - 1) },
		"monthStart":     d.MonthStart,
		"nextMonthStart": d.NextMonthStart,
		"dayLabel":       d.DayLabel,
		"daysSince":      d.DaysSince,
		"tagJoin":        d.TagJoin,
		"limit": func(name string) (int, error) {
			n, ok := limits[name]
			if !ok {
				return 0, fmt.Errorf("no limit named %q", name)
			}
			return n, nil
		},
	}

	out := make(map[string]string, len(queryTemplates))
	for name, text := range queryTemplates {
		tmpl, err := template.New(name).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing query %s: %w", name, err)
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, nil); err != nil {
			return nil, fmt.Errorf("rendering query %s: %w", name, err)
		}
		out[name] = d.Rebind(strings.TrimSpace(b.String()))
	}
	return out, nil
}
