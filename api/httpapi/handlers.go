package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"statsbridge/core"
	"statsbridge/engine"
)

var validate = validator.New()

type handlers struct {
	svc *engine.StatsService
	log *slog.Logger
}

type statValue struct {
	Value *int32 `json:"value"`
}

type setStatRequest struct {
	Value *int32 `json:"value" validate:"required"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type tokenResponse struct {
	Token *core.LeaderboardToken `json:"token"`
}

type createLeaderboardRequest struct {
	Name        string `json:"name"`
	SortMethod  int32  `json:"sort_method"`
	DisplayType int32  `json:"display_type"`
}

type uploadScoreRequest struct {
	Method  int32   `json:"method"`
	Score   *int32  `json:"score" validate:"required"`
	Details []int32 `json:"details"`
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"tokens": h.svc.Tokens().Len(),
		},
	})
}

func (h *handlers) getStat(w http.ResponseWriter, r *http.Request) {
	var resp statValue
	if v, ok := h.svc.GetInt(r.Context(), chi.URLParam(r, "name")); ok {
		resp.Value = &v
	}
	writeJSON(w, resp)
}

func (h *handlers) setStat(w http.ResponseWriter, r *http.Request) {
	var req setStatRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, okResponse{OK: h.svc.SetInt(r.Context(), chi.URLParam(r, "name"), *req.Value)})
}

func (h *handlers) storeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, okResponse{OK: h.svc.Store(r.Context())})
}

func (h *handlers) resetStats(w http.ResponseWriter, r *http.Request) {
	achievements := false
	if raw := r.URL.Query().Get("achievements"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "achievements must be a boolean", nil)
			return
		}
		achievements = v
	}
	writeJSON(w, okResponse{OK: h.svc.ResetAll(r.Context(), achievements)})
}

func (h *handlers) findOrCreateLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req createLeaderboardRequest
	if !decode(w, r, &req) {
		return
	}
	var resp tokenResponse
	if tok, ok := h.svc.FindOrCreateLeaderboard(r.Context(), req.Name, req.SortMethod, req.DisplayType); ok {
		resp.Token = &tok
	}
	writeJSON(w, resp)
}

func (h *handlers) findLeaderboard(w http.ResponseWriter, r *http.Request) {
	var resp tokenResponse
	if tok, ok := h.svc.FindLeaderboard(r.Context(), chi.URLParam(r, "name")); ok {
		resp.Token = &tok
	}
	writeJSON(w, resp)
}

func (h *handlers) leaderboardInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := h.svc.LeaderboardInfo(r.Context(), chi.URLParam(r, "token"))
	if !ok {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, info)
}

func (h *handlers) uploadScore(w http.ResponseWriter, r *http.Request) {
	var req uploadScoreRequest
	if !decode(w, r, &req) {
		return
	}
	res, ok := h.svc.UploadLeaderboardScore(r.Context(), chi.URLParam(r, "token"), req.Method, *req.Score, req.Details)
	if !ok {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, res)
}

func (h *handlers) downloadEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var params [4]int32
	for i, name := range []string{"request", "start", "end", "max_details"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", fmt.Sprintf("%s must be a 32-bit integer", name), nil)
			return
		}
		params[i] = int32(v)
	}
	entries, ok := h.svc.DownloadLeaderboardEntries(r.Context(), chi.URLParam(r, "token"), params[0], params[1], params[2], params[3])
	if !ok {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, entries)
}

// decode reads a JSON body into dst and validates it, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body failed validation", formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"error": "invalid request format"}
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			out[field] = "this field is required"
		case "max":
			out[field] = fmt.Sprintf("must be at most %s", e.Param())
		default:
			out[field] = "invalid value"
		}
	}
	return out
}
