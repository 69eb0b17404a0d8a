package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emer/etable/etensor"
	"github.com/gorilla/websocket"

	"github.com/thruflo/botloop/internal/auth"
	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/robot"
	"github.com/thruflo/botloop/web"
)

// Defaults for Config.
const (
	DefaultFrameInterval = 100 * time.Millisecond
	DefaultJPEGQuality   = 80
)

// closeUnauthorized is the websocket close code sent when /frames is
// opened without a valid token.
const closeUnauthorized = 4001

const writeWait = 2 * time.Second

// Config holds viewer options.
type Config struct {
	Addr string
	// PasswordHash is an argon2id hash. Empty disables authentication.
	PasswordHash string
	// FrameInterval is how often connected clients are sent new frames.
	FrameInterval time.Duration
	JPEGQuality   int
	TokenTTL      time.Duration
	LoginLimits   LoginLimits
	// Assets serves the page. Nil uses the embedded page.
	Assets fs.FS
	Logger *logging.Logger
}

// Viewer shows camera images in a browser. It implements the control
// loop's Display: Show stores the latest frame per camera and connected
// clients receive it over a websocket.
type Viewer struct {
	cfg      Config
	logger   *logging.Logger
	frames   *frameStore
	tokens   *auth.Tokens
	limiter  *loginLimiter
	upgrader websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closing  chan struct{}
	started  bool
	stopped  bool
}

// New creates a Viewer.
func New(cfg Config) (*Viewer, error) {
	if cfg.PasswordHash != "" {
		if err := auth.ValidateHash(cfg.PasswordHash); err != nil {
			return nil, fmt.Errorf("invalid viewer password hash: %w", err)
		}
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Assets == nil {
		cfg.Assets = web.GetAssets("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	v := &Viewer{
		cfg:     cfg,
		logger:  logger,
		frames:  newFrameStore(),
		tokens:  auth.NewTokens(cfg.TokenTTL),
		limiter: newLoginLimiter(cfg.LoginLimits, logger),
		closing: make(chan struct{}),
	}
	mux := http.NewServeMux()
	v.setupRoutes(mux)
	v.handler = mux
	return v, nil
}

// Show stores img as the latest frame of the named camera. name may be a
// full observation channel name.
func (v *Viewer) Show(name string, img *etensor.Uint8) error {
	return v.frames.put(cameraName(name), img)
}

// CloseAll forgets every camera.
func (v *Viewer) CloseAll() error {
	v.frames.clear()
	return nil
}

// ColorOrder returns the channel order Show expects.
func (v *Viewer) ColorOrder() robot.ColorOrder {
	return robot.RGB
}

// Handler returns the HTTP handler serving the viewer.
func (v *Viewer) Handler() http.Handler {
	return v.handler
}

func cameraName(channel string) string {
	return strings.TrimPrefix(channel, robot.ImageKeyPrefix)
}

// Start serves the viewer until ctx is cancelled or Stop is called.
func (v *Viewer) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.started || v.stopped {
		v.mu.Unlock()
		return errors.New("viewer already started")
	}
	listener, err := net.Listen("tcp", v.cfg.Addr)
	if err != nil {
		v.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", v.cfg.Addr, err)
	}
	v.listener = listener
	v.server = &http.Server{
		Handler:           v.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	v.started = true
	server := v.server
	v.mu.Unlock()

	v.logger.Info("Camera viewer listening", "url", "http://"+listener.Addr().String())

	go v.maintain(ctx)

	err = server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("viewer error: %w", err)
	}
	return nil
}

// maintain prunes expired tokens and idle limiter state, and stops the
// server when ctx ends.
func (v *Viewer) maintain(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := v.Stop(); err != nil {
				v.logger.Warn("Viewer shutdown failed", "error", err)
			}
			return
		case <-v.closing:
			return
		case <-ticker.C:
			v.tokens.Prune()
			v.limiter.prune()
		}
	}
}

// Stop gracefully shuts down the server and disconnects frame clients.
func (v *Viewer) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.started {
		return nil
	}
	close(v.closing)
	v.started = false
	v.stopped = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// ListenAddr returns the address the viewer is listening on, or "" before
// Start.
func (v *Viewer) ListenAddr() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.listener == nil {
		return ""
	}
	return v.listener.Addr().String()
}

func (v *Viewer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth", v.handleAuth)
	mux.HandleFunc("GET /frames", v.handleFrames)
	mux.HandleFunc("GET /cameras", v.withAuth(v.handleCameras))
	mux.HandleFunc("GET /snapshot/{name}", v.withAuth(v.handleSnapshot))
	mux.Handle("GET /", http.FileServerFS(v.cfg.Assets))
}

func (v *Viewer) authRequired() bool {
	return v.cfg.PasswordHash != ""
}

// authorized checks the bearer token, or the token query parameter that
// browsers use for websockets.
func (v *Viewer) authorized(r *http.Request) bool {
	if !v.authRequired() {
		return true
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return v.tokens.Valid(token)
}

func (v *Viewer) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !v.authorized(r) {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

// handleAuth exchanges the password for a token.
func (v *Viewer) handleAuth(w http.ResponseWriter, r *http.Request) {
	if !v.authRequired() {
		writeJSON(w, map[string]string{"token": ""})
		return
	}

	ip := clientIP(r)
	if ok, retry := v.limiter.allow(ip); !ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retry.Seconds())+1))
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	password := r.FormValue("password")
	if password == "" {
		http.Error(w, "password required", http.StatusBadRequest)
		return
	}

	valid, err := auth.VerifyPassword(password, v.cfg.PasswordHash)
	if err != nil {
		v.logger.Error("Viewer password check failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !valid {
		v.limiter.failure(ip)
		http.Error(w, "invalid password", http.StatusUnauthorized)
		return
	}

	v.limiter.success(ip)
	writeJSON(w, map[string]string{"token": v.tokens.Issue()})
}

func (v *Viewer) handleCameras(w http.ResponseWriter, r *http.Request) {
	names := v.frames.names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, map[string][]string{"cameras": names})
}

func (v *Viewer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	f, ok := v.frames.get(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := encodeJPEG(f, v.cfg.JPEGQuality)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// frameMessage is one websocket update. JPEG is base64 in JSON.
type frameMessage struct {
	Camera string `json:"camera"`
	Seq    uint64 `json:"seq"`
	JPEG   []byte `json:"jpeg"`
}

// handleFrames pushes new camera frames to a websocket client every
// FrameInterval.
func (v *Viewer) handleFrames(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		return
	}
	defer conn.Close()

	if !v.authorized(r) {
		closeWith(conn, closeUnauthorized, "unauthorized")
		return
	}

	// The client never sends data; reading detects when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	seen := make(map[string]uint64)
	ticker := time.NewTicker(v.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-v.closing:
			closeWith(conn, websocket.CloseGoingAway, "viewer stopped")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := v.sendNewFrames(conn, seen); err != nil {
				v.logger.Debug("Viewer client dropped", "error", err)
				return
			}
		}
	}
}

func (v *Viewer) sendNewFrames(conn *websocket.Conn, seen map[string]uint64) error {
	for _, name := range v.frames.newer(seen) {
		f, ok := v.frames.get(name)
		if !ok {
			continue
		}
		data, err := encodeJPEG(f, v.cfg.JPEGQuality)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frameMessage{Camera: name, Seq: f.seq, JPEG: data}); err != nil {
			return err
		}
		seen[name] = f.seq
	}
	return nil
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
