package migrate

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table describes one table to copy: the source name (optionally
// schema-qualified), the explicit column list, and the columns
// holding structured JSON values.
type Table struct {
	Name        string   `yaml:"name"`
	Columns     []string `yaml:"columns"`
	JSONColumns []string `yaml:"json_columns,omitempty"`
}

// Manifest is the on-disk form of a table list.
type Manifest struct {
	Tables []Table `yaml:"tables"`
}

// DefaultTables lists the vocalytics tables with parents before
// children.
var DefaultTables = []Table{
	{
		Name: "vocalytics.users",
		Columns: []string{
			"user_id", "name", "email", "role", "supervisor_id",
			"team_name", "join_date", "is_active",
		},
	},
	{
		Name: "vocalytics.agents_ai_insights",
		Columns: []string{
			"user_id", "strengths", "area_of_improvement",
			"action_items", "generated_at",
		},
	},
	{
		Name: "vocalytics.calls",
		Columns: []string{
			"call_id", "user_id", "duration_sec", "language",
			"transcript_text", "call_type",
		},
	},
	{
		Name: "vocalytics.call_sentiments",
		Columns: []string{
			"call_id", "overall_sentiment", "sentiment_score",
			"sentiment_breakdown", "conversation_tags", "analyzed_at",
		},
		JSONColumns: []string{"sentiment_breakdown", "conversation_tags"},
	},
	{
		Name: "vocalytics.escalations",
		Columns: []string{
			"escalation_id", "call_id", "agent_id", "supervisor_id",
			"escalation_reason", "possible_action", "created_at",
			"status", "last_actioned_at",
		},
	},
	{
		Name: "vocalytics.leaderboard",
		Columns: []string{
			"user_name", "total_calls", "positive_calls",
			"negative_calls", "performance_score", "rank",
		},
	},
}

// DestName is the table name without its schema qualifier.
func (t Table) DestName() string {
	if i := strings.LastIndex(t.Name, "."); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}

func (t Table) isJSON(col string) bool {
	return slices.Contains(t.JSONColumns, col)
}

// Validate checks the table has a name and columns, and that
// every JSON column is one of the copied columns.
func (t Table) Validate() error {
	if t.Name == "" {
		return errors.New("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	for _, c := range t.JSONColumns {
		if !slices.Contains(t.Columns, c) {
			return fmt.Errorf(
				"table %s: json column %q not in column list",
				t.Name, c,
			)
		}
	}
	return nil
}

// LoadManifest reads a YAML table manifest.
func LoadManifest(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(m.Tables) == 0 {
		return nil, fmt.Errorf("manifest %s lists no tables", path)
	}
	for _, t := range m.Tables {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}
	return m.Tables, nil
}

// Select keeps the tables named in only, in their original
// order. Names match with or without the schema qualifier. An
// empty filter keeps every table.
func Select(tables []Table, only []string) ([]Table, error) {
	if len(only) == 0 {
		return tables, nil
	}
	var out []Table
	seen := map[string]bool{}
	for _, t := range tables {
		matched := false
		for _, name := range only {
			if name == t.Name || name == t.DestName() {
				seen[name] = true
				matched = true
			}
		}
		if matched {
			out = append(out, t)
		}
	}
	for _, name := range only {
		if !seen[name] {
			return nil, fmt.Errorf("unknown table %q", name)
		}
	}
	return out, nil
}
