package server

import (
	"net/http"
)

// Agent endpoints take the agent id as the last path segment.
// Response shapes differ per endpoint and are kept as the
// dashboard consumes them.

func (s *Server) handleWeeklyVolume(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.WeeklyVolume(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handlePerformanceScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.store.PerformanceScore(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*float64{"score": score})
}

func (s *Server) handleLeaderboardRank(w http.ResponseWriter, r *http.Request) {
	rank, err := s.store.LeaderboardRank(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*int64{"rank": rank})
}

func (s *Server) handleSentimentDistribution(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.SentimentDistribution(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sentiment": nonNil(rows)})
}

func (s *Server) handleCallsByTag(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.TopCallTags(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": nonNil(rows)})
}

func (s *Server) handleRecentEscalations(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.RecentEscalations(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": nonNil(rows)})
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.RecentCalls(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": nonNil(rows)})
}

func (s *Server) handleCallsToday(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CallsToday(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) handleAgentInsights(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.AgentInsights(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": nonNil(rows)})
}
