package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/matcher"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/response"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type itemResult struct {
	ID     string `json:"id,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

type batchResult struct {
	Created int          `json:"created"`
	Failed  int          `json:"failed"`
	Results []itemResult `json:"results"`
}

type responseBatchRequest struct {
	SessionID string                `json:"session_id"`
	Responses []response.Submission `json:"responses"`
}

type matchBody struct {
	TaskID  string          `json:"task_id"`
	Score   float64         `json:"score"`
	Reasons []string        `json:"reasons"`
	Task    *taskstore.Task `json:"task"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case herrors.Is(err, herrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case herrors.Is(err, herrors.ErrDuplicateID):
		return http.StatusConflict, "duplicate_id"
	case herrors.Is(err, herrors.ErrAssignmentMismatch):
		return http.StatusConflict, "assignment_mismatch"
	case herrors.Is(err, herrors.ErrAlreadySubmitted):
		return http.StatusConflict, "already_submitted"
	case herrors.Is(err, herrors.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case herrors.Is(err, herrors.ErrNoTaskAvailable):
		return http.StatusNoContent, "no_task_available"
	case herrors.Is(err, herrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case herrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case herrors.IsCanceled(err):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "severity", herrors.GetSeverity(err).String())
	}
	msg := err.Error()
	if status == http.StatusInternalServerError && !herrors.IsUserFacing(err) {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func itemFor(id string, err error) itemResult {
	if err == nil {
		return itemResult{ID: id}
	}
	_, code := statusFor(err)
	return itemResult{ID: id, Error: err.Error(), Code: code}
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return herrors.NewValidationError("invalid JSON body: " + err.Error())
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, w http.ResponseWriter, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, w, v)
}

func sessionParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		return "", herrors.NewValidationError("session_id is required").WithField("session_id")
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, herrors.NewValidationError("must be a non-negative integer").WithField(name).WithValue(raw)
	}
	return n, nil
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task taskstore.Task
	if err := decode(r, w, &task); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.engine.CreateTask(r.Context(), &task)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var tasks []*taskstore.Task
	if err := decode(r, w, &tasks); err != nil {
		s.writeError(w, err)
		return
	}
	results := s.engine.CreateBatch(r.Context(), tasks)
	out := batchResult{Results: make([]itemResult, len(results))}
	for i, res := range results {
		out.Results[i] = itemFor(res.ID, res.Err)
		if res.Err != nil {
			out.Failed++
		} else {
			out.Created++
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := taskstore.Filter{
		Language: q.Get("language"),
		Category: taskstore.Category(q.Get("category")),
	}
	if raw := q.Get("status"); raw != "" {
		st, ok := taskstore.ParseState(raw)
		if !ok {
			s.writeError(w, herrors.NewValidationError("unknown status").WithField("status").WithValue(raw))
			return
		}
		filter.State = st
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, err := s.engine.ListTasks(r.Context(), filter, limit, q.Get("cursor"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRetireTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.RetireTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRequestTask(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var attrs profile.Attributes
	if err := decodeOptional(r, w, &attrs); err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.engine.RequestTask(r.Context(), sessionID, attrs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleMatchTasks(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if limit == 0 {
		limit = matcher.DefaultRankLimit
	}
	var attrs profile.Attributes
	if err := decodeOptional(r, w, &attrs); err != nil {
		s.writeError(w, err)
		return
	}
	matches, err := s.engine.MatchTasks(r.Context(), sessionID, attrs, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]matchBody, len(matches))
	for i, m := range matches {
		out[i] = matchBody{TaskID: m.Task.ID, Score: m.Score, Reasons: m.Reasons, Task: m.Task}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	var sub response.Submission
	if err := decode(r, w, &sub); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.engine.SubmitResponse(r.Context(), sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req responseBatchRequest
	if err := decode(r, w, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.URL.Query().Get("session_id")
	}
	results := s.engine.SubmitBatch(r.Context(), req.SessionID, req.Responses)
	out := batchResult{Results: make([]itemResult, len(results))}
	for i, res := range results {
		out.Results[i] = itemFor(res.ResponseID, res.Err)
		out.Results[i].TaskID = res.TaskID
		if res.Err != nil {
			out.Failed++
		} else {
			out.Created++
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.GetResponse(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.Sweep(r.Context())
	if err != nil {
		s.logger.Warn("sweep finished with errors", "error", err)
	}
	writeJSON(w, http.StatusOK, sum)
}
