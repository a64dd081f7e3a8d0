package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"waifuapi/internal/app"
	"waifuapi/internal/ratelimit"
	"waifuapi/internal/util"
	"waifuapi/pkg/domain"
)

// DefaultCallerID is the owner namespace used when a request carries no
// current-user header. All unattributed callers share this namespace.
const DefaultCallerID = "0_no_current_user_specified"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AllowedOrigins []string
	TrustedProxies []string
	RedisAddr      string
	RedisPassword  string
	ChatRateLimit  int
	ChatRateWindow time.Duration
}

// Server exposes the REST surface over the dialog app.
type Server struct {
	app            *app.App
	allowedOrigins []string
	trustedProxies *util.TrustedProxies
	chatLimiter    *ratelimit.FixedWindowLimiter
	mux            *http.ServeMux
}

// New constructs the server with routes configured. The chat rate
// limiter is built only when a Redis address is supplied; without one
// the chat endpoints run unthrottled.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		allowedOrigins: cfg.AllowedOrigins,
		trustedProxies: proxies,
		mux:            http.NewServeMux(),
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "waifuapi:ratelimit:chat", cfg.ChatRateLimit, cfg.ChatRateWindow)
		if err != nil {
			return nil, fmt.Errorf("configure chat rate limiter: %w", err)
		}
		s.chatLimiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with shared middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("waifuapi", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/v1/server/status", s.handleServerStatus)
	s.mux.HandleFunc("/v1/user/id/", s.handleUserByID)
	s.mux.HandleFunc("/v1/user/metadata/", s.handleUserMetadata)
	s.mux.HandleFunc("/v1/user/all/count", s.handleUserCount)
	s.mux.HandleFunc("/v1/user/all/id/", s.handleUserPage)
	s.mux.HandleFunc("/v1/user/dialog/json/", s.handleDialogJSON)
	s.mux.HandleFunc("/v1/user/dialog/str/", s.handleDialogString)
	s.mux.HandleFunc("/v1/user/dialog/", s.handleDialogReset)
	s.mux.HandleFunc("/v1/waifu", s.handleChatJSON)
	s.mux.HandleFunc("/path", s.handleChatForm)
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /v1/user/id/{user_id}
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(r, "/v1/user/id/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	owner := resolveCaller(r)
	switch r.Method {
	case http.MethodPut:
		id, err := s.app.CreateUser(r.Context(), owner, userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse{UserID: id})
	case http.MethodGet:
		id, exists, err := s.app.UserExists(r.Context(), owner, userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		status := http.StatusOK
		if !exists {
			status = http.StatusNotFound
		}
		writeJSON(w, status, existsResponse{UserID: id, Exists: exists})
	case http.MethodDelete:
		id, err := s.app.DeleteUser(r.Context(), owner, userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "user.delete", "success", "user_id", id)
		writeJSON(w, http.StatusOK, userResponse{UserID: id})
	default:
		methodNotAllowed(w)
	}
}

// /v1/user/metadata/{user_id}
func (s *Server) handleUserMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID, ok := pathParam(r, "/v1/user/metadata/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	user, err := s.app.UserMetadata(r.Context(), resolveCaller(r), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		UserID:                user.UserID,
		LastModifiedDatetime:  user.LastModifiedDatetime(),
		LastModifiedTimestamp: user.LastModifiedUnix(),
	})
}

// /v1/user/all/count
func (s *Server) handleUserCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	count, err := s.app.CountUsers(r.Context(), resolveCaller(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{UserCount: count})
}

// /v1/user/all/id/{page}
func (s *Server) handleUserPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	raw, ok := pathParam(r, "/v1/user/all/id/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		writeError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	users, err := s.app.ListUsersPage(r.Context(), resolveCaller(r), page)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Page: page, Users: users})
}

// /v1/user/dialog/json/{user_id}
func (s *Server) handleDialogJSON(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(r, "/v1/user/dialog/json/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	owner := resolveCaller(r)
	switch r.Method {
	case http.MethodGet:
		turns, err := s.app.DialogJSON(r.Context(), owner, userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dialogJSONResponse{UserID: userID, Dialog: turns})
	case http.MethodPut:
		var req setDialogRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		id, err := s.app.SetDialogJSON(r.Context(), owner, userID, req.Dialog)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "dialog.replace", "success", "user_id", id, "turns", len(req.Dialog))
		writeJSON(w, http.StatusOK, userResponse{UserID: id})
	default:
		methodNotAllowed(w)
	}
}

// /v1/user/dialog/str/{user_id}
func (s *Server) handleDialogString(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID, ok := pathParam(r, "/v1/user/dialog/str/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	dialog, err := s.app.DialogString(r.Context(), resolveCaller(r), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dialogStringResponse{UserID: userID, Dialog: dialog})
}

// /v1/user/dialog/{user_id}
func (s *Server) handleDialogReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	userID, ok := pathParam(r, "/v1/user/dialog/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, err := s.app.ResetDialog(r.Context(), resolveCaller(r), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "dialog.reset", "success", "user_id", id)
	writeJSON(w, http.StatusOK, userResponse{UserID: id})
}

// /v1/waifu answers JSON chat calls. The response echoes the request's
// user_id field untouched, even when the reply fell back to the default
// text because the id was unusable.
func (s *Server) handleChatJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "too many chat requests") {
		s.audit(r, "chat.request", "rate_limited")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply, err := s.app.GenerateReply(r.Context(), resolveCaller(r), app.ChatRequest{
		UserID:        req.UserID,
		Message:       req.Message,
		FromName:      req.FromName,
		ToName:        req.ToName,
		Situation:     req.Situation,
		TranslateFrom: req.TranslateFrom,
		TranslateTo:   req.TranslateTo,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{UserID: req.UserID, Response: reply})
}

// /path keeps the legacy plain-text chat contract: fields arrive in the
// query string or form body and the body of the response is the bare
// reply text.
func (s *Server) handleChatForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "too many chat requests") {
		s.audit(r, "chat.request", "rate_limited")
		return
	}
	reply, err := s.app.GenerateReply(r.Context(), resolveCaller(r), app.ChatRequest{
		UserID:        r.FormValue("user_id"),
		Message:       r.FormValue("message"),
		FromName:      r.FormValue("from_name"),
		ToName:        r.FormValue("to_name"),
		Situation:     r.FormValue("situation"),
		TranslateFrom: r.FormValue("translate_from"),
		TranslateTo:   r.FormValue("translate_to"),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, reply)
}

// resolveCaller returns the owner namespace for the request. Callers
// are separated by the optional current-user header; requests without
// one share DefaultCallerID.
func resolveCaller(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("current-user")); v != "" {
		return v
	}
	return DefaultCallerID
}

// pathParam extracts the single trailing path segment after prefix.
// Empty segments and deeper paths do not match any route.
func pathParam(r *http.Request, prefix string) (string, bool) {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, app.ErrUserNotFound.Error())
	case errors.Is(err, app.ErrInvalidUserID), errors.Is(err, app.ErrInvalidDialog):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, msg string) bool {
	if s.chatLimiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if s.chatLimiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(s.chatLimiter.Window()/time.Second)))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type userResponse struct {
	UserID string `json:"user_id"`
}

type existsResponse struct {
	UserID string `json:"user_id"`
	Exists bool   `json:"exists"`
}

type metadataResponse struct {
	UserID                string `json:"user_id"`
	LastModifiedDatetime  string `json:"last_modified_datetime"`
	LastModifiedTimestamp int64  `json:"last_modified_timestamp"`
}

type countResponse struct {
	UserCount int `json:"user_count"`
}

type pageResponse struct {
	Page  int      `json:"page"`
	Users []string `json:"users"`
}

type dialogJSONResponse struct {
	UserID string        `json:"user_id"`
	Dialog []domain.Turn `json:"dialog"`
}

type setDialogRequest struct {
	Dialog []domain.Turn `json:"dialog"`
}

type dialogStringResponse struct {
	UserID string `json:"user_id"`
	Dialog string `json:"dialog"`
}

type chatRequest struct {
	UserID        string `json:"user_id"`
	Message       string `json:"message"`
	FromName      string `json:"from_name"`
	ToName        string `json:"to_name"`
	Situation     string `json:"situation"`
	TranslateFrom string `json:"translate_from"`
	TranslateTo   string `json:"translate_to"`
}

type chatResponse struct {
	UserID   string `json:"user_id"`
	Response string `json:"response"`
}
