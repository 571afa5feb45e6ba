package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"skirmish/internal/game"
	"skirmish/internal/history"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetSnapshot())
}

func (h *routerHandlers) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Status())
}

func (h *routerHandlers) handleGetRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Rules())
}

func (h *routerHandlers) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if h.history == nil {
		writeJSON(w, []game.MatchResult{})
		return
	}

	records, err := h.history.List(limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("list history")
		writeError(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []game.MatchResult{}
	}
	writeJSON(w, records)
}

func (h *routerHandlers) handleGetHistorySummary(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, history.Summary{})
		return
	}
	writeJSON(w, h.history.Summary())
}

func (h *routerHandlers) handleCheckInvariants(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CheckInvariants(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (h *routerHandlers) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.renderer.EncodePNG(&buf, h.engine.GetSnapshot()); err != nil {
		h.logger.Error().Err(err).Msg("render frame")
		writeError(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// placeRequest is the body of POST /api/place
type placeRequest struct {
	Faction string `json:"faction"`
	Type    string `json:"type"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

func (h *routerHandlers) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	faction := game.FactionPlayer
	if req.Faction != "" {
		f, err := game.ParseFaction(req.Faction)
		if err != nil || !f.Valid() {
			writeError(w, "faction must be player or opponent", http.StatusBadRequest)
			return
		}
		faction = f
	}

	bt, err := game.ParseBuildingType(req.Type)
	if err != nil {
		writeRejection(w, game.RejectUnknownType)
		return
	}

	res := h.engine.Place(faction, bt, req.X, req.Y)
	if !res.Success {
		writeRejection(w, res.Reason)
		return
	}
	writeJSON(w, res)
}

func (h *routerHandlers) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seed int64 `json:"seed"`
	}
	// An empty body is a restart with a fresh seed.
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
			writeError(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	status := h.engine.Restart(req.Seed)
	h.logger.Info().Uint64("match", status.Match).Int64("seed", status.Seed).Msg("match restarted via api")
	writeJSON(w, status)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeRejection(w http.ResponseWriter, reason game.RejectReason) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"reason":  reason,
	})
}
