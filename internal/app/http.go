package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spaceforge/api/internal/space"
	"spaceforge/api/internal/version"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"cache":    map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.CachePing(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["cache"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "spaces" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	spaceID := parts[2]
	rest := parts[3:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.GetSpace(r.Context(), spaceID)
		s.respond(w, r, payload, err)

	case len(rest) == 0 && r.Method == http.MethodPut:
		var body struct {
			Space *space.Snapshot `json:"space"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.PutSpace(r.Context(), spaceID, body.Space)
		s.respond(w, r, payload, err)

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodPost:
		var body CreateVersionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateVersion(r.Context(), spaceID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet:
		input, err := listInputFromQuery(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.ListVersions(r.Context(), spaceID, input)
		s.respond(w, r, payload, err)

	case len(rest) == 2 && rest[0] == "versions" && rest[1] == "prune" && r.Method == http.MethodPost:
		var body struct {
			Keep int `json:"keep"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.PruneVersions(r.Context(), spaceID, body.Keep)
		s.respond(w, r, payload, err)

	case len(rest) == 2 && rest[0] == "versions" && r.Method == http.MethodGet:
		includeSnapshot := r.URL.Query().Get("includeSnapshot") == "true"
		payload, err := s.service.GetVersion(r.Context(), spaceID, rest[1], includeSnapshot)
		s.respond(w, r, payload, err)

	case len(rest) == 2 && rest[0] == "versions" && r.Method == http.MethodDelete:
		cascade := r.URL.Query().Get("cascade") == "true"
		cleanup := r.URL.Query().Get("cleanupFiles") != "false"
		payload, err := s.service.DeleteVersion(r.Context(), spaceID, rest[1], cascade, cleanup)
		s.respond(w, r, payload, err)

	case len(rest) == 3 && rest[0] == "versions" && rest[2] == "restore" && r.Method == http.MethodPost:
		var body RestoreInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RestoreVersion(r.Context(), spaceID, rest[1], body)
		s.respond(w, r, payload, err)

	case len(rest) == 1 && rest[0] == "diff" && r.Method == http.MethodGet:
		from := strings.TrimSpace(r.URL.Query().Get("from"))
		to := strings.TrimSpace(r.URL.Query().Get("to"))
		if from == "" || to == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from and to are required", nil)
			return
		}
		payload, err := s.service.DiffVersions(r.Context(), spaceID, from, to)
		s.respond(w, r, payload, err)

	case len(rest) == 1 && rest[0] == "merge" && r.Method == http.MethodPost:
		var body MergeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.MergeVersions(r.Context(), spaceID, body)
		s.respond(w, r, payload, err)

	case len(rest) == 1 && rest[0] == "layout-import" && r.Method == http.MethodPost:
		var body LayoutImportInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ImportLayout(r.Context(), spaceID, body)
		s.respond(w, r, payload, err)

	case len(rest) == 1 && rest[0] == "layout-sync" && r.Method == http.MethodPost:
		var body LayoutSyncInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SyncLayout(r.Context(), spaceID, body)
		s.respond(w, r, payload, err)

	case len(rest) == 2 && rest[0] == "mirror" && rest[1] == "history" && r.Method == http.MethodGet:
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		payload, err := s.service.MirrorHistory(r.Context(), spaceID, limit)
		s.respond(w, r, payload, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, payload map[string]any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Printf(`{"request_id":"%s","level":"error","error":%q}`, requestIDFrom(r.Context()), err.Error())
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// requestIDFrom returns the request id injected by withMiddleware; empty when
// the handler runs outside the middleware chain.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func listInputFromQuery(r *http.Request) (ListVersionsInput, error) {
	input := ListVersionsInput{}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return input, fmt.Errorf("limit must be an integer")
		}
		input.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return input, fmt.Errorf("offset must be an integer")
		}
		input.Offset = parsed
	}
	if raw := strings.TrimSpace(query.Get("tags")); raw != "" {
		input.Tags = strings.Split(raw, ",")
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return input, fmt.Errorf("from must be an RFC3339 timestamp")
		}
		input.From = &parsed
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return input, fmt.Errorf("to must be an RFC3339 timestamp")
		}
		input.To = &parsed
	}
	return input, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, version.ErrInvalidSnapshot):
		return http.StatusUnprocessableEntity, "INVALID_SNAPSHOT", err.Error(), nil
	case errors.Is(err, version.ErrParentNotFound):
		return http.StatusNotFound, "PARENT_NOT_FOUND", err.Error(), nil
	case errors.Is(err, version.ErrProtectedVersion):
		return http.StatusConflict, "PROTECTED_VERSION", err.Error(), nil
	case errors.Is(err, version.ErrVersionLimitExceeded):
		return http.StatusConflict, "VERSION_LIMIT_EXCEEDED", err.Error(), nil
	case errors.Is(err, version.ErrVersionNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Version not found", nil
	case errors.Is(err, version.ErrSpaceNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Space not found", nil
	case errors.Is(err, version.ErrStorage):
		return http.StatusBadGateway, "STORAGE_FAILURE", "Storage backend failure", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
