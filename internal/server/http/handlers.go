package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/scope"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	maxKeywordsLength  = 4096
	minYear            = 1800
	maxYear            = 9999
)

// scopeRequest is the JSON request body naming a research scope.
type scopeRequest struct {
	Keywords string `json:"keywords" validate:"required,max=4096,contains=;"`
}

// pipelineRequest is the JSON request body for starting a pipeline run.
// An empty body or keywords value selects the configured default scope.
type pipelineRequest struct {
	Keywords string `json:"keywords" validate:"omitempty,max=4096,contains=;"`
}

// listScopes handles GET /api/v1/scopes.
func (s *Server) listScopes(w http.ResponseWriter, r *http.Request) {
	records, err := scope.ListScopes(r.Context(), s.db)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	scopes := make([]scopeResponse, len(records))
	for i, rec := range records {
		scopes[i] = scopeRecordToResponse(rec)
	}
	writeJSON(w, http.StatusOK, listScopesResponse{
		Scopes:     scopes,
		TotalCount: len(scopes),
	})
}

// registerScope handles POST /api/v1/scopes.
// It creates the store schema if needed and records the scope.
func (s *Server) registerScope(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}

	sc, err := s.manager.Scope(req.Keywords)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := sc.EnsureStorable(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := sc.Register(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, scopeToResponse(sc))
}

// getCombinationYear handles GET /api/v1/scopes/{keywords}/combinations/{index}/years/{year}.
// It returns the cached publications of the combination and year with their citation frontier.
func (s *Server) getCombinationYear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sc, ok := s.scopeFromPath(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= sc.NumCombinations() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("index must be between 0 and %d", sc.NumCombinations()-1))
		return
	}
	year, ok := parseYear(w, chi.URLParam(r, "year"))
	if !ok {
		return
	}

	pubs, err := sc.LoadCached(ctx, index, year)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	frontier, err := sc.MissingReferencedIds(ctx, index, year)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, combinationYearResponse{
		Keywords:     sc.Keywords(),
		Combination:  sc.CombinationAt(index),
		Year:         year,
		Publications: publicationsToResponse(pubs),
		Frontier:     frontier,
	})
}

// getPredictions handles GET /api/v1/scopes/{keywords}/predictions/{year}.
func (s *Server) getPredictions(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scopeFromPath(w, r)
	if !ok {
		return
	}
	year, ok := parseYear(w, chi.URLParam(r, "year"))
	if !ok {
		return
	}

	preds, err := s.manager.Predictions(r.Context(), sc.Keywords(), year)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if preds == nil {
		preds = []domain.Prediction{}
	}

	writeJSON(w, http.StatusOK, predictionsResponse{
		Keywords:    sc.Keywords(),
		Year:        year,
		Predictions: preds,
	})
}

// startPipeline handles POST /api/v1/pipeline.
// It starts the task chain of the scope in the background and answers 202.
func (s *Server) startPipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}

	keywords := req.Keywords
	if keywords == "" {
		keywords = s.defaultKeywords
	}
	if keywords == "" {
		writeError(w, http.StatusBadRequest, "keywords is required")
		return
	}

	runID, err := s.manager.Start(r.Context(), keywords)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startPipelineResponse{
		RunID:    runID,
		Keywords: s.manager.Status().Keywords,
		Message:  "pipeline started",
	})
}

// getPipelineStatus handles GET /api/v1/pipeline.
func (s *Server) getPipelineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

// cancelPipeline handles DELETE /api/v1/pipeline.
// Cancellation takes effect after the step in flight completes.
func (s *Server) cancelPipeline(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Cancel() {
		writeError(w, http.StatusConflict, "no pipeline run is active")
		return
	}
	writeJSON(w, http.StatusAccepted, cancelPipelineResponse{
		Success: true,
		Message: "cancellation requested",
	})
}

// decodeBody reads and validates a JSON request body into v. An empty body is accepted
// when optional is true.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	var body []byte
	if r.Body != nil {
		defer r.Body.Close()
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return false
		}
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		if optional {
			return true
		}
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage turns validator errors into a client message without echoing input.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "contains":
		return fmt.Sprintf("%s must contain two %q-separated keyword groups", field, domain.KeywordGroupSeparator)
	default:
		return field + " is invalid"
	}
}

// scopeFromPath parses the {keywords} path parameter into a scope.
func (s *Server) scopeFromPath(w http.ResponseWriter, r *http.Request) (*scope.ResearchScope, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "keywords"))
	if err != nil || raw == "" || len(raw) > maxKeywordsLength {
		writeError(w, http.StatusBadRequest, "keywords must be a valid scope string")
		return nil, false
	}
	sc, err := s.manager.Scope(raw)
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return sc, true
}

// parseYear parses a year path parameter, writing a 400 error response if invalid.
func parseYear(w http.ResponseWriter, s string) (int, bool) {
	year, err := strconv.Atoi(s)
	if err != nil || year < minYear || year > maxYear {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("year must be between %d and %d", minYear, maxYear))
		return 0, false
	}
	return year, true
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON error
// response. Internal error details are logged, not returned.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrQueryNotFound):
		writeError(w, http.StatusNotFound, "no cached query for this combination and year")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid argument")
		}
	case errors.Is(err, domain.ErrRunnerBusy):
		writeError(w, http.StatusConflict, "a pipeline run is already active")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrServiceUnavailable):
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
