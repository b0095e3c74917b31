package app

import (
	"net/http"
	"strconv"
	"strings"

	"order-relay/internal/monitor"
)

// handleEvents 返回最近的监控事件，支持 type 与 limit 参数。事件含客户代码与资金，需先登录。
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Sessions.Require(); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": loginFirst}, s.logger)
		return
	}
	if s.deps.Events == nil {
		writeJSON(w, http.StatusOK, []monitor.Event{}, s.logger)
		return
	}

	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := s.deps.Events.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events, s.logger)
}
