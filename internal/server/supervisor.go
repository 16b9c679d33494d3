package server

import (
	"context"
	"net/http"
)

// writeCount answers a team counter as {"count": n}.
func (s *Server) writeCount(
	w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, supervisorID string) (int64, error),
) {
	n, err := fn(r.Context(), r.PathValue("supervisorId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) handleTeamCallsToday(w http.ResponseWriter, r *http.Request) {
	s.writeCount(w, r, s.store.TeamCallsToday)
}

func (s *Server) handleTeamWeeklyCalls(w http.ResponseWriter, r *http.Request) {
	s.writeCount(w, r, s.store.TeamWeeklyCalls)
}

func (s *Server) handleMonthlyEscalations(w http.ResponseWriter, r *http.Request) {
	s.writeCount(w, r, s.store.MonthlyEscalations)
}

func (s *Server) handleAgentPerformance(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.AgentPerformance(r.Context(), r.PathValue("supervisorId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleTagSentimentHeatmap(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.TagSentimentHeatmap(r.Context(), r.PathValue("supervisorId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleTeamSentiment(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.TeamSentiment(r.Context(), r.PathValue("supervisorId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleSupervisorEscalations(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.SupervisorEscalations(r.Context(), r.PathValue("supervisorId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Leaderboard(r.Context())
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

// handleCompareAgents reads the two agents from the agent1 and
// agent2 query parameters. Missing ids match no rows.
func (s *Server) handleCompareAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.store.CompareAgents(r.Context(), q.Get("agent1"), q.Get("agent2"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}
