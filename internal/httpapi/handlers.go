package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/bridevmx/nanodb/internal/authz"
	"github.com/bridevmx/nanodb/internal/engine"
	svcerrors "github.com/bridevmx/nanodb/internal/obs/errors"
	"github.com/bridevmx/nanodb/internal/obs/httputil"
	"github.com/bridevmx/nanodb/internal/obs/middleware"
)

const maxBatchOps = 100
const heartbeatInterval = 30 * time.Second

func tickerFor(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		Collection string `json:"collection"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if body.Collection == "" {
		body.Collection = "users"
	}

	token, user, err := s.auth.Login(r.Context(), body.Collection, body.Email, body.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Service) handleListRecords(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	if !s.authorize(w, r, collection, authz.ActionRead, nil) {
		return
	}

	page, perPage := httputil.PaginationParams(r, 30, 100)
	filter := parseFilter(r)
	sortField := httputil.QueryString(r, "sort", "")

	res, err := s.engine.List(r.Context(), collection, engine.ListParams{
		Filter: filter, Sort: sortField, Page: page, PerPage: perPage,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	totalPages := 0
	if res.PerPage > 0 {
		totalPages = (res.TotalItems + res.PerPage - 1) / res.PerPage
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":      res.Items,
		"page":       res.Page,
		"perPage":    res.PerPage,
		"totalItems": res.TotalItems,
		"totalPages": totalPages,
	})
}

// parseFilter accepts either a JSON object in the "filter" query parameter
// or a single "field=value" pair, per spec.
func parseFilter(r *http.Request) map[string]any {
	raw := r.URL.Query().Get("filter")
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "{") {
		var m map[string]any
		if json.Unmarshal([]byte(raw), &m) == nil {
			return m
		}
		return nil
	}
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 {
		return nil
	}
	return map[string]any{parts[0]: parts[1]}
}

func (s *Service) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collection, id := vars["collection"], vars["id"]

	rec, err := s.engine.Get(r.Context(), collection, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.authorize(w, r, collection, authz.ActionRead, rec) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (s *Service) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	var body map[string]any
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if !s.authorize(w, r, collection, authz.ActionCreate, body) {
		return
	}

	rec, err := s.engine.Create(r.Context(), collection, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Service) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collection, id := vars["collection"], vars["id"]

	var body map[string]any
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}

	current, err := s.engine.Get(r.Context(), collection, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.authorize(w, r, collection, authz.ActionUpdate, current) {
		return
	}

	var expected *int64
	if raw, ok := body["_expectedVersion"]; ok {
		v := toInt64(raw)
		expected = &v
		delete(body, "_expectedVersion")
	}

	rec, err := s.engine.Update(r.Context(), collection, id, body, expected)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (s *Service) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collection, id := vars["collection"], vars["id"]

	current, err := s.engine.Get(r.Context(), collection, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.authorize(w, r, collection, authz.ActionDelete, current) {
		return
	}

	var expected *int64
	if raw := r.URL.Query().Get("version"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			expected = &n
		}
	}

	if err := s.engine.Delete(r.Context(), collection, id, expected); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}

// authorize runs the row-level authorization check and writes a 403 on
// denial. Returns false if the caller should stop handling the request.
func (s *Service) authorize(w http.ResponseWriter, r *http.Request, collection string, action authz.Action, record map[string]any) bool {
	caller := callerFromContext(r.Context())
	if s.authzChecker.Allow(collection, action, record, caller) {
		return true
	}
	writeError(w, r, svcerrors.Forbidden("not authorized for this record"))
	return false
}

type contextKey string

const callerContextKey contextKey = "caller"

func callerFromContext(ctx context.Context) authz.Caller {
	c, ok := ctx.Value(callerContextKey).(authz.Caller)
	if !ok {
		return authz.Caller{}
	}
	return c
}

// batchRequestItem is one sub-request of POST /api/batch.
type batchRequestItem struct {
	Method     string         `json:"method"`
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

type batchResultItem struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests []batchRequestItem `json:"requests"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if len(body.Requests) > maxBatchOps {
		writeError(w, r, svcerrors.Validation("batch exceeds MAX_BATCH_SIZE", []string{"too many requests"}))
		return
	}

	results := make([]batchResultItem, len(body.Requests))
	for i, req := range body.Requests {
		results[i] = s.runBatchItem(r.Context(), req)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Service) runBatchItem(ctx context.Context, req batchRequestItem) batchResultItem {
	var (
		result any
		err    error
	)
	switch strings.ToUpper(req.Method) {
	case "CREATE", "POST":
		result, err = s.engine.Create(ctx, req.Collection, req.Data)
	case "UPDATE", "PATCH":
		result, err = s.engine.Update(ctx, req.Collection, req.ID, req.Data, nil)
	case "DELETE":
		err = s.engine.Delete(ctx, req.Collection, req.ID, nil)
		if err == nil {
			result = map[string]any{"success": true, "id": req.ID}
		}
	case "GET":
		result, err = s.engine.Get(ctx, req.Collection, req.ID)
	default:
		err = svcerrors.Validation("unknown batch method", []string{req.Method})
	}

	if err != nil {
		se := svcerrors.GetServiceError(err)
		msg := err.Error()
		if se != nil {
			msg = se.Message
		}
		return batchResultItem{Success: false, Error: msg}
	}
	return batchResultItem{Success: true, Result: result}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"cache":                s.recordCache.Stats(),
		"singleFlightInFlight": s.recordCache.InFlight(),
		"writeBuffer":          s.buffer.Stats(),
		"realtimeSinks":        s.broadcaster.SinkCount(),
		"runtime":              middleware.RuntimeStats(),
	})
}

func (s *Service) handleBufferStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.buffer.Stats())
}

func (s *Service) handleRealtime(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink, ok := newSSESink(w)
	if !ok {
		writeError(w, r, svcerrors.Internal("streaming unsupported by this connection", nil))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("event: connected\ndata: {}\n\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	collections := r.URL.Query()["collection"]
	id := s.broadcaster.Subscribe(sink, collections)
	defer s.broadcaster.Unsubscribe(id)

	ticker := tickerFor(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			sink.markClosed()
			return
		case <-ticker.C:
			if !sink.sendHeartbeat() {
				return
			}
		}
	}
}
