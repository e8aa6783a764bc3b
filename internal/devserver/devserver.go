// Package devserver emulates the configuration service on localhost so SDK
// clients can be developed and tested without a cloud instance. It serves a
// configuration document from a local source, issues dummy bearer tokens and
// pushes change notifications over the same websocket protocol the real
// service uses.
package devserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coder/websocket"
	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
	"github.com/velum-io/appconfig-go/internal/store"
	"github.com/velum-io/appconfig-go/internal/telemetry"
)

// heartbeatMessage is the liveness frame written on idle notification
// streams, matching the cloud service's wire behaviour.
const heartbeatMessage = "test message"

// apikeyGrantType is the OAuth grant the token endpoint accepts.
const apikeyGrantType = "urn:velum:params:oauth:grant-type:apikey"

// Config assembles a Server. Source is required; everything else has
// development defaults.
type Config struct {
	// Source supplies the configuration document. The initial load must
	// succeed or New fails.
	Source store.Source

	// GUID is the instance id the server answers for. Empty accepts any.
	GUID string

	// EnvironmentID and CollectionID are the coordinates documents are
	// validated against on load. Default "dev" and "default".
	EnvironmentID string
	CollectionID  string

	// APIKey, when set, is required at the token endpoint and issued
	// tokens are required everywhere else. Empty disables auth.
	APIKey string

	// RateLimit is requests per minute per client IP. Default 120.
	RateLimit int

	// Heartbeat is the notification stream liveness interval. Default 30s.
	Heartbeat time.Duration

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// Server holds the current document and the connected notification streams.
type Server struct {
	source        store.Source
	guid          string
	environmentID string
	collectionID  string
	apiKey        string
	rateLimit     int
	heartbeat     time.Duration
	log           zerolog.Logger
	metrics       *telemetry.Metrics

	mu     sync.RWMutex
	doc    []byte
	etag   string
	tokens map[string]struct{}
	usage  [][]byte

	subMu sync.Mutex
	subs  map[chan string]struct{}
}

// New builds a server and performs the initial document load.
func New(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, models.ValidationError{Field: "Source", Message: "document source is required"}
	}

	s := &Server{
		source:        cfg.Source,
		guid:          cfg.GUID,
		environmentID: cfg.EnvironmentID,
		collectionID:  cfg.CollectionID,
		apiKey:        cfg.APIKey,
		rateLimit:     cfg.RateLimit,
		heartbeat:     cfg.Heartbeat,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		tokens:        make(map[string]struct{}),
		subs:          make(map[chan string]struct{}),
	}
	if s.environmentID == "" {
		s.environmentID = "dev"
	}
	if s.collectionID == "" {
		s.collectionID = "default"
	}
	if s.rateLimit <= 0 {
		s.rateLimit = 120
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 30 * time.Second
	}

	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP surface: the config fetch endpoint, the token
// endpoint, the websocket notification stream, a health check and an
// optional metrics mount.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))

	// The notification stream stays open indefinitely, so the request
	// timeout applies only to the plain HTTP routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Post("/identity/token", s.handleToken)
		r.Get("/feature/v1/instances/{guid}/config", s.requireToken(s.handleConfig))
		r.Post("/events/v1/instances/{guid}/usage", s.requireToken(s.handleUsage))
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}
	})

	r.Get("/apprapp/wsfeature", s.requireToken(s.handleStream))
	return r
}

// Reload reads the document from the source, validates it and swaps it in.
// It reports whether the document actually changed. Unloadable documents
// leave the served one untouched.
func (s *Server) Reload() (bool, error) {
	data, err := s.source.Load()
	if err != nil {
		return false, fmt.Errorf("failed to load configuration document: %w", err)
	}
	doc, err := models.ParseDocument(data)
	if err != nil {
		return false, err
	}
	if _, err := snapshot.Compile(doc, data, s.environmentID, s.collectionID); err != nil {
		return false, err
	}

	etag := fmt.Sprintf(`"%x"`, xxhash.Sum64(data))
	s.mu.Lock()
	changed := etag != s.etag
	s.doc, s.etag = data, etag
	s.mu.Unlock()

	if changed {
		s.log.Info().Str("etag", etag).Int("bytes", len(data)).Msg("configuration document loaded")
	}
	return changed, nil
}

// Notify pushes a change signal to every connected notification stream.
func (s *Server) Notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- "updated":
		default:
		}
	}
}

// Watch reloads and notifies whenever the document at path changes on disk.
// It blocks until ctx is cancelled. The watch is set on the directory:
// editors and atomic saves replace the file, which silently drops a watch
// set on the file itself.
func (s *Server) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	base := filepath.Base(path)

	s.log.Info().Str("path", path).Msg("watching configuration document")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			changed, err := s.Reload()
			if err != nil {
				s.log.Warn().Err(err).Msg("ignoring unloadable configuration document")
				continue
			}
			if changed {
				s.Notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if guid := chi.URLParam(r, "guid"); s.guid != "" && guid != s.guid {
		http.Error(w, "unknown instance", http.StatusNotFound)
		return
	}
	if r.URL.Query().Get("action") != "sdkConfig" {
		http.Error(w, "unsupported action", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	doc, etag := s.doc, s.etag
	s.mu.RUnlock()

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(doc)
}

// handleUsage accepts usage batches so metering can be exercised end to end.
// Batches are retained in memory for inspection, not processed.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if guid := chi.URLParam(r, "guid"); s.guid != "" && guid != s.guid {
		http.Error(w, "unknown instance", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.usage = append(s.usage, body)
	s.mu.Unlock()

	s.log.Debug().Int("bytes", len(body)).Msg("usage batch received")
	w.WriteHeader(http.StatusAccepted)
}

// UsageBatches returns the raw usage payloads received so far.
func (s *Server) UsageBatches() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(s.usage))
	copy(out, s.usage)
	return out
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("grant_type") != apikeyGrantType {
		http.Error(w, "unsupported grant type", http.StatusBadRequest)
		return
	}
	key := r.PostFormValue("apikey")
	if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		http.Error(w, "invalid apikey", http.StatusUnauthorized)
		return
	}

	token := newToken()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   3600,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	msgs, cancel := s.subscribe()
	defer cancel()

	// CloseRead discards inbound frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("notification stream opened")
	for {
		var msg string
		select {
		case <-ctx.Done():
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("notification stream closed")
			return
		case <-ticker.C:
			msg = heartbeatMessage
		case msg = <-msgs:
		}

		writeCtx, cancelWrite := context.WithTimeout(ctx, 10*time.Second)
		err := conn.Write(writeCtx, websocket.MessageText, []byte(msg))
		cancelWrite()
		if err != nil {
			return
		}
	}
}

// requireToken gates a handler behind an issued bearer token when an API key
// is configured.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		s.mu.RLock()
		_, ok := s.tokens[token]
		s.mu.RUnlock()
		if token == "" || !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) subscribe() (chan string, func()) {
	ch := make(chan string, 4)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
}

// bearerToken extracts the token from an Authorization header, tolerating
// any casing of the Bearer prefix.
func bearerToken(header string) string {
	token := strings.TrimSpace(header)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return ""
}

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("dev-%d", time.Now().UnixNano())
	}
	return "dev-" + hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
