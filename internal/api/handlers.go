package api

import (
	"encoding/json"
	"net/http"

	"github.com/wonny/maestro/pkg/logger"
	"github.com/wonny/maestro/pkg/redis"
)

// Handler serves the monitoring and control endpoints
// ⭐ SSOT: HTTP 핸들러는 이 구조체에서만
type Handler struct {
	engine *Engine
	cache  *redis.StateCache
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates the API handler
// cache, hub는 nil 허용 (캐시/스트림 생략)
func NewHandler(engine *Engine, cache *redis.StateCache, hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		engine: engine,
		cache:  cache,
		hub:    hub,
		logger: log.WithComponent("api"),
	}
}

// Update processes one engine period
// POST /api/v1/update
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var input StepInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.engine.Step(input)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 최신 상태를 캐시/스트림으로 전파 (실패해도 응답은 성공)
	if h.cache != nil {
		if err := h.cache.SetLatest(r.Context(), "meta", result.Meta, 0); err != nil {
			h.logger.WithError(err).Warn("failed to cache meta state")
		}
	}
	if h.hub != nil {
		h.hub.Broadcast(result)
	}

	respondJSON(w, http.StatusOK, result)
}

// State returns the latest engine state
// GET /api/v1/state
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Last()
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Allocation returns the current strategy allocation
// GET /api/v1/allocation
func (h *Handler) Allocation(w http.ResponseWriter, r *http.Request) {
	weights, selected, rankings := h.engine.Allocation()
	respondJSON(w, http.StatusOK, map[string]any{
		"allocation": weights,
		"selected":   selected,
		"rankings":   rankings,
	})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// 헤더는 이미 나갔으므로 로그만 남길 수 없음: 연결 오류로 간주
		return
	}
}

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
