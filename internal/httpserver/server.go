package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/EchoPBX/devtools-bridge/internal/bridge"
	"github.com/EchoPBX/devtools-bridge/internal/config"
	"github.com/EchoPBX/devtools-bridge/internal/gesture"
	"github.com/EchoPBX/devtools-bridge/internal/host"
	"github.com/EchoPBX/devtools-bridge/internal/jwt"
	"github.com/EchoPBX/devtools-bridge/internal/upload"
	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
)

// Bridge is what the HTTP surface needs from the dev-tools module.
type Bridge interface {
	sdk.Emitter
	Name() string
	Events() []string
	EnqueueLogFrom(origin sdk.Origin, payload any) error
	LogFrom(origin sdk.Origin, level sdk.Level, msg string, params ...any) error
	OnRawSignal(sig gesture.Signal) (bool, error)
	EnableShaker(enabled, deleteLog bool) error
	Stats() bridge.Stats
}

type LogFile interface {
	Path() string
	Exists() bool
	Delete() (bool, error)
}

type Uploader interface {
	Upload(ctx context.Context, webhook, path string) (upload.Result, error)
}

type SlackUploader interface {
	Upload(ctx context.Context, path string) (upload.Result, error)
}

type ModuleLister interface {
	Modules() []host.ModuleInfo
}

type Deps struct {
	Bridge   Bridge
	Modules  ModuleLister
	LogFile  LogFile
	Uploader Uploader
	Slack    SlackUploader
	Gatherer prometheus.Gatherer
}

// wsBacklog is how many frames a slow websocket client may fall behind
// before its listener starts failing.
const wsBacklog = 256

var errBacklogFull = errors.New("websocket client backlog full")

type Server struct {
	log  *zap.Logger
	deps Deps
	r    *chi.Mux
	jwt  *jwt.Validator

	mu  sync.RWMutex
	cfg *config.Config
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, err
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	origins := cfg.HTTP.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	s := &Server{cfg: cfg, log: log, deps: deps, r: r, jwt: v}
	s.routes()
	if !v.Enabled() {
		log.Warn("no jwt keys configured, http surface is unauthenticated")
	}
	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

func (s *Server) Reload(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := s.deps.Bridge.Stats().State
		if st != bridge.StateActive {
			http.Error(w, st.String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	s.r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/v1/info", s.info)
		r.Get("/v1/events", s.events)
		r.Post("/v1/logs", s.postLog)
		r.Post("/v1/signals", s.postSignal)
		r.Post("/v1/shaker", s.postShaker)
		r.Get("/v1/logs/file", s.logFile)
		r.Delete("/v1/logs/file", s.deleteLogFile)
		r.Post("/v1/logs/upload", s.uploadLogFile)
	})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"name":   s.deps.Bridge.Name(),
		"events": s.deps.Bridge.Events(),
		"time":   time.Now().UTC(),
		"stats":  s.deps.Bridge.Stats(),
	}
	if s.deps.Modules != nil {
		resp["modules"] = s.deps.Modules.Modules()
	}
	writeJSON(w, http.StatusOK, resp)
}

type logRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Params  []any  `json:"params"`
	// payload opaco, se reenvía tal cual
	Payload any `json:"payload"`
}

func (s *Server) postLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if !decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.Message != "":
		lvl, perr := sdk.ParseLevel(req.Level)
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		err = s.deps.Bridge.LogFrom(sdk.OriginMain, lvl, req.Message, req.Params...)
	case req.Payload != nil:
		err = s.deps.Bridge.EnqueueLogFrom(sdk.OriginMain, req.Payload)
	default:
		http.Error(w, "message or payload required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) postSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source    string  `json:"source"`
		Magnitude float64 `json:"magnitude"`
	}
	if !decode(w, r, &req) {
		return
	}
	accepted, err := s.deps.Bridge.OnRawSignal(gesture.Signal{Source: req.Source, Magnitude: req.Magnitude})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) postShaker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled   bool `json:"enabled"`
		DeleteLog bool `json:"delete_log"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Bridge.EnableShaker(req.Enabled, req.DeleteLog); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logFile(w http.ResponseWriter, r *http.Request) {
	if s.deps.LogFile == nil {
		http.Error(w, "log file sink disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   s.deps.LogFile.Path(),
		"exists": s.deps.LogFile.Exists(),
	})
}

func (s *Server) deleteLogFile(w http.ResponseWriter, r *http.Request) {
	if s.deps.LogFile == nil {
		http.Error(w, "log file sink disabled", http.StatusNotFound)
		return
	}
	deleted, err := s.deps.LogFile.Delete()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// uploadLogFile sends the log file to a chat webhook (the default) or, with
// ?target=slack, to the configured Slack channel.
func (s *Server) uploadLogFile(w http.ResponseWriter, r *http.Request) {
	if s.deps.LogFile == nil {
		http.Error(w, "log upload disabled", http.StatusNotFound)
		return
	}

	var (
		res upload.Result
		err error
	)
	switch target := r.URL.Query().Get("target"); target {
	case "", "webhook":
		if s.deps.Uploader == nil {
			http.Error(w, "log upload disabled", http.StatusNotFound)
			return
		}
		var req struct {
			Webhook string `json:"webhook"`
		}
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		webhook := req.Webhook
		if webhook == "" {
			webhook = s.config().Upload.Webhook
		}
		if webhook == "" {
			http.Error(w, "no webhook configured", http.StatusBadRequest)
			return
		}
		res, err = s.deps.Uploader.Upload(r.Context(), webhook, s.deps.LogFile.Path())
	case "slack":
		if s.deps.Slack == nil {
			http.Error(w, "slack upload not configured", http.StatusNotFound)
			return
		}
		res, err = s.deps.Slack.Upload(r.Context(), s.deps.LogFile.Path())
	default:
		http.Error(w, fmt.Sprintf("unknown upload target %q", target), http.StatusBadRequest)
		return
	}

	switch {
	case errors.Is(err, upload.ErrLogFileMissing):
		writeJSON(w, http.StatusNotFound, upload.Result{Type: "error", Error: err.Error()})
	case errors.Is(err, upload.ErrInvalidWebhook), errors.Is(err, upload.ErrSlackNotConfigured):
		writeJSON(w, http.StatusBadRequest, upload.Result{Type: "error", Error: err.Error()})
	case err != nil:
		s.fail(w, err)
	case res.Type != "success":
		writeJSON(w, http.StatusBadGateway, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// frame is what a websocket listener receives for every delivered event.
type frame struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	names := eventNames(r.URL.Query().Get("events"), s.deps.Bridge.Events())

	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	out := make(chan frame, wsBacklog)
	done := make(chan struct{})
	var handles []sdk.Handle
	defer func() {
		for _, h := range handles {
			_ = s.deps.Bridge.Unsubscribe(h)
		}
		close(done)
		_ = conn.Close()
	}()

	for _, name := range names {
		name := name
		h, err := s.deps.Bridge.Subscribe(name, func(payload any) error {
			select {
			case out <- frame{Event: name, Payload: payload, Time: time.Now().UTC()}:
				return nil
			case <-done:
				return nil
			default:
				return errBacklogFull
			}
		})
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		handles = append(handles, h)
	}

	// escritor: empuja eventos al cliente
	go func() {
		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case f := <-out:
				if err := conn.WriteJSON(f); err != nil {
					s.log.Debug("ws write error", zap.Error(err))
					_ = conn.Close()
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// lector mínimo para detectar cierre del cliente (control frames)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// eventNames parses ?events=a,b. Blanks and repeats are dropped so one
// connection holds at most one subscription per event.
func eventNames(q string, all []string) []string {
	if q == "" {
		return all
	}
	seen := make(map[string]struct{})
	var out []string
	for _, n := range strings.Split(q, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return all
	}
	return out
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.jwt.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		tok := r.Header.Get("Authorization")
		if tok == "" {
			// los navegadores no pueden poner cabeceras en un websocket
			tok = r.URL.Query().Get("access_token")
		}
		if tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		tok = strings.TrimPrefix(tok, "Bearer ")
		if _, err := s.jwt.Verify(tok); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var lerr *bridge.LifecycleError
	switch {
	case errors.As(err, &lerr):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, bridge.ErrUnknownEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
