package web

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"cmdbridge/internal/core"
	"cmdbridge/internal/storage"
	"cmdbridge/internal/transports/common"
)

type contextKey string

const (
	ctxSubjectID  contextKey = "subject_id"
	ctxRoles      contextKey = "roles"
	ctxAuthMethod contextKey = "auth_method"
)

// Действия authorizer для служебных endpoint'ов.
const (
	ActionCommands = "web:commands"
	ActionAudit    = "web:audit"
)

// TokenEntry описывает web bearer-токен.
type TokenEntry struct {
	ID          string
	TokenSHA256 string
	Subject     string
	Roles       []string
	Enabled     bool
}

// Config определяет параметры HTTP-транспорта.
type Config struct {
	ListenAddr               string
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	ShutdownTimeout          time.Duration
	RequestTimeout           time.Duration
	MaxRequestBody           int64
	AllowLegacySubjectHeader bool
	Tokens                   []TokenEntry
	CORSAllowedOrigins       []string
}

// Adapter публикует реестр команд по HTTP и WebSocket.
type Adapter struct {
	svc    *common.Service
	ipc    *common.Service
	store  storage.Store
	cfg    Config
	logger *slog.Logger

	tokensByHash map[string]TokenEntry
	origins      map[string]struct{}
	upgrader     websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	conns  map[*websocket.Conn]struct{}
}

// NewAdapter создает web transport. svc обслуживает HTTP-вызовы, ipc —
// кадры WebSocket; оба используют один реестр.
func NewAdapter(svc, ipc *common.Service, store storage.Store, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 35 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 31 * time.Second
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = 1 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	tokensByHash := make(map[string]TokenEntry, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		h := strings.ToLower(strings.TrimSpace(token.TokenSHA256))
		if len(h) != 64 {
			continue
		}
		tokensByHash[h] = token
	}

	origins := make(map[string]struct{}, len(cfg.CORSAllowedOrigins))
	for _, origin := range cfg.CORSAllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins[trimmed] = struct{}{}
		}
	}

	return &Adapter{
		svc:          svc,
		ipc:          ipc,
		store:        store,
		cfg:          cfg,
		logger:       logger,
		tokensByHash: tokensByHash,
		origins:      origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (a *Adapter) Name() string { return "web" }

// Start запускает HTTP server и останавливает его при отмене контекста.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.server != nil {
		a.mu.Unlock()
		return errors.New("web transport already started")
	}
	srv := &http.Server{
		Addr:         a.cfg.ListenAddr,
		Handler:      a.routes(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}
	a.server = srv
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	go func() {
		a.logger.Info("web transport listening", "addr", a.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("web transport failed", "addr", a.cfg.ListenAddr, "err", err)
		}
	}()
	return nil
}

// Stop завершает HTTP server и открытые IPC-соединения.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	conns := a.conns
	a.conns = make(map[*websocket.Conn]struct{})
	a.mu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (a *Adapter) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		// Пустой список origin запрещает CORS целиком.
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			_, ok := a.origins[origin]
			return ok
		},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	r.Get("/v1/health", a.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(a.timeoutMiddleware)
		r.Use(a.authSubjectMiddleware(false))

		r.Get("/v1/me", a.handleMe)
		r.With(a.authorizeActionMiddleware(ActionCommands)).Get("/v1/commands", a.handleCommands)
		r.With(a.maxBodyMiddleware).Post("/v1/invoke/{name}", a.handleInvoke)
		r.Route("/v1/audit", func(r chi.Router) {
			r.Use(a.authorizeActionMiddleware(ActionAudit))
			r.Get("/", a.handleAudit)
			r.Get("/stats", a.handleAuditStats)
		})
	})

	// Браузер не может выставить Authorization для WebSocket, поэтому токен
	// допускается и в параметре access_token.
	r.With(a.authSubjectMiddleware(true)).Get("/v1/ipc", a.handleIPC)

	return r
}

func (a *Adapter) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := common.SanitizeRequestID(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = common.NewRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), requestID)))
	})
}

func (a *Adapter) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Adapter) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func (a *Adapter) authSubjectMiddleware(allowQueryToken bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subjectID, roles, authMethod, code := a.resolveSubject(r, allowQueryToken)
			if code != "" {
				writeError(w, r, http.StatusUnauthorized, code)
				return
			}
			ctx := context.WithValue(r.Context(), ctxSubjectID, subjectID)
			ctx = context.WithValue(ctx, ctxRoles, roles)
			ctx = context.WithValue(ctx, ctxAuthMethod, authMethod)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Adapter) resolveSubject(r *http.Request, allowQueryToken bool) (string, []string, string, string) {
	token, hasToken := "", false
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token, hasToken = strings.TrimSpace(authHeader[7:]), true
	} else if allowQueryToken && r.URL.Query().Has("access_token") {
		token, hasToken = strings.TrimSpace(r.URL.Query().Get("access_token")), true
	}
	if hasToken {
		if token == "" {
			return "", nil, "", "invalid_token"
		}
		sum := sha256.Sum256([]byte(token))
		entry, ok := a.tokensByHash[hex.EncodeToString(sum[:])]
		if !ok || !entry.Enabled || entry.Subject == "" {
			return "", nil, "", "invalid_token"
		}
		return entry.Subject, append([]string(nil), entry.Roles...), "bearer", ""
	}

	if a.cfg.AllowLegacySubjectHeader {
		if subjectID := strings.TrimSpace(r.Header.Get("X-Subject-ID")); subjectID != "" {
			return subjectID, nil, "legacy_header", ""
		}
	}
	return "", nil, "", "auth_required"
}

func (a *Adapter) authorizeActionMiddleware(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subjectID := subjectIDFromContext(r.Context())
			if err := a.svc.Authorizer.Authorize(core.Subject{Source: a.svc.Source, ID: subjectID}, core.Action{Module: "web", Command: action}); err != nil {
				a.logger.Warn("web action denied", "subject", subjectID, "action", action, "request_id", common.RequestIDFromContext(r.Context()))
				writeError(w, r, http.StatusForbidden, common.CodeAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"request_id":  common.RequestIDFromContext(r.Context()),
		"subject":     subjectIDFromContext(r.Context()),
		"roles":       rolesFromContext(r.Context()),
		"auth_method": authMethodFromContext(r.Context()),
	})
}

func (a *Adapter) handleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"request_id": common.RequestIDFromContext(r.Context()),
		"items":      a.svc.Registry.Commands(),
	})
}

func (a *Adapter) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}

	resp, err := a.svc.Execute(r.Context(), subjectIDFromContext(r.Context()), name, body)
	if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, "request_timeout")
		return
	}
	if raw, ok := resp.Data.([]byte); ok && !resp.Failed() {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}
	writeJSON(w, r, invokeStatus(err), invokeResponse{
		RequestID: common.RequestIDFromContext(r.Context()),
		Response:  resp,
	})
}

type invokeResponse struct {
	RequestID string `json:"request_id"`
	core.Response
}

// invokeStatus выбирает HTTP-статус по ошибке пайплайна.
// Отказ самой команды (например, too_high) остается 200.
func invokeStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case common.IsAccessDenied(err):
		return http.StatusForbidden
	case common.IsRateLimited(err):
		return http.StatusTooManyRequests
	case core.IsUnknownCommand(err):
		return http.StatusNotFound
	case core.IsInvalidArguments(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *Adapter) handleAudit(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit_disabled")
		return
	}
	query := r.URL.Query()
	q := storage.AuditQuery{
		Subject: query.Get("subject"),
		Action:  query.Get("action"),
		Limit:   parseLimit(query.Get("limit")),
	}
	var ok bool
	if q.From, ok = parseTime(w, r, "from"); !ok {
		return
	}
	if q.To, ok = parseTime(w, r, "to"); !ok {
		return
	}

	events, err := a.store.QueryAudit(r.Context(), q)
	if err != nil {
		a.storeFailure(w, r, err)
		return
	}

	type eventDTO struct {
		Subject   string          `json:"subject"`
		Action    string          `json:"action"`
		Source    string          `json:"source"`
		Status    string          `json:"status"`
		RequestID string          `json:"request_id"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		TS        string          `json:"ts"`
	}
	items := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		var payload json.RawMessage
		if json.Valid(ev.Payload) {
			payload = json.RawMessage(ev.Payload)
		}
		items = append(items, eventDTO{
			Subject:   ev.Subject,
			Action:    ev.Action,
			Source:    ev.Source,
			Status:    ev.Status,
			RequestID: ev.RequestID,
			Payload:   payload,
			TS:        ev.TS.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"request_id": common.RequestIDFromContext(r.Context()),
		"items":      items,
	})
}

func (a *Adapter) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit_disabled")
		return
	}
	since, ok := parseTime(w, r, "since")
	if !ok {
		return
	}
	stats, err := a.store.Stats(r.Context(), since)
	if err != nil {
		a.storeFailure(w, r, err)
		return
	}
	if stats == nil {
		stats = []storage.CommandStat{}
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"request_id": common.RequestIDFromContext(r.Context()),
		"items":      stats,
	})
}

func (a *Adapter) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, "request_timeout")
		return
	}
	a.logger.Error("audit query failed", "request_id", common.RequestIDFromContext(r.Context()), "err", err)
	writeError(w, r, http.StatusInternalServerError, "query_failed")
}

func parseTime(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, true
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_"+key)
		return time.Time{}, false
	}
	return ts, true
}

func parseLimit(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return storage.DefaultAuditLimit
	}
	return n
}

func subjectIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxSubjectID).(string)
	return v
}

func rolesFromContext(ctx context.Context) []string {
	v, _ := ctx.Value(ctxRoles).([]string)
	return v
}

func authMethodFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxAuthMethod).(string)
	return v
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code string) {
	writeJSON(w, r, statusCode, map[string]string{
		"request_id": common.RequestIDFromContext(r.Context()),
		"status":     core.StatusError,
		"error_code": code,
		"message":    errorMessage(code),
	})
}

func errorMessage(code string) string {
	switch code {
	case "auth_required":
		return "authentication is required"
	case "invalid_token":
		return "token is invalid"
	case common.CodeAccessDenied:
		return "access denied"
	case "payload_too_large":
		return "request payload is too large"
	case "request_timeout":
		return "request timeout"
	case "audit_disabled":
		return "audit store is not configured"
	default:
		return code
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if id := common.RequestIDFromContext(r.Context()); id != "" {
		w.Header().Set("X-Request-ID", id)
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
