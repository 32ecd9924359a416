package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/server"
	"github.com/oszuidwest/rdio-vox/internal/types"
)

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))
var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// statusInterval is how often /ws pushes the monitor status.
const statusInterval = 100 * time.Millisecond

type loginData struct {
	Error     bool
	CSRFToken string
	Version   string
	Year      int
	Station   string
}

type indexData struct {
	Version string
	Year    int
	Station string
}

// Server is the HTTP server for the web console and the JSON API.
type Server struct {
	config   *config.Config
	app      *App
	sessions *server.SessionManager
	commands *server.CommandHandler
	version  *VersionChecker
}

// NewServer returns a Server for app.
func NewServer(cfg *config.Config, app *App, version *VersionChecker) *Server {
	return &Server{
		config:   cfg,
		app:      app,
		sessions: server.NewSessionManager(),
		commands: server.NewCommandHandler(app),
		version:  version,
	}
}

// handleWebSocket pushes status to the console and accepts commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// send is never closed: command replies may arrive after the client left.
	// The writer is the only goroutine that touches the connection for writing.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes queued messages and pings until the reader exits.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	ping := time.NewTicker(server.PingPeriod)
	defer ping.Stop()
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if p, ok := conn.(server.Pinger); ok {
				if err := p.Ping(); err != nil {
					return
				}
			}
		}
	}
}

// runWebSocketReader dispatches commands until the connection fails.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes the status on a fixed interval and after commands.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-ticker.C:
			if !trySend(s.buildWSStatus()) {
				return
			}
		}
	}
}

func (s *Server) buildWSStatus() types.StatusResponse {
	st := s.app.Status()
	st.Type = "status"
	return st
}

// SetupRoutes returns an [http.Handler] with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()
	m := s.app.metrics

	// Public routes
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/style.css", s.handlePublicStatic)
	mux.HandleFunc("/favicon.svg", s.handlePublicStatic)
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.registry, promhttp.HandlerOpts{}))

	// JSON API
	api := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, auth(m.Middleware(pattern, h)))
	}
	api("/api/status", s.handleAPIStatus)
	api("/api/config", s.handleAPIConfig)
	api("/api/control", s.handleAPIControl)
	api("/api/devices", s.handleAPIDevices)
	api("/api/version", s.handleAPIVersion)
	api("/api/change-settings", s.handleAPIChangeSettings)
	api("/api/test-connection", s.handleAPITestConnection)
	api("/api/events", s.handleAPIEvents)
	api("/api/notifications/test", s.handleAPITestNotification)
	api("/api/archive/test", s.handleAPITestArchive)

	// The WebSocket handler needs the raw ResponseWriter for the upgrade.
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/", auth(s.handleStatic))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePublicStatic(w http.ResponseWriter, r *http.Request) {
	if !serveStaticFile(w, r.URL.Path) {
		http.NotFound(w, r)
	}
}

// serveStaticFile serves an embedded file and reports whether it exists.
func serveStaticFile(w http.ResponseWriter, path string) bool {
	file, ok := staticFiles[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
	return true
}

// handleLogin shows the login form and checks the submitted password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.sessions.Authenticated(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	data := loginData{
		Version:   Version,
		Year:      time.Now().Year(),
		CSRFToken: s.sessions.CreateCSRFToken(),
		Station:   stationLabel(s.config.Snapshot()),
	}

	if r.Method == http.MethodPost {
		if !s.sessions.ValidateCSRFToken(r.FormValue("csrf_token")) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if s.sessions.Login(w, r, r.FormValue("password"), s.config.CheckPassword) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		slog.Warn("failed login attempt", "remote", r.RemoteAddr)
		data.Error = true
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// staticFile is an embedded asset.
type staticFile struct {
	contentType string
	content     string
	name        string
}

var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css; charset=utf-8",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript; charset=utf-8",
		content:     appJS,
		name:        "app.js",
	},
	"/favicon.svg": {
		contentType: "image/svg+xml",
		content:     faviconSVG,
		name:        "favicon.svg",
	},
}

// handleStatic serves the console page and its assets.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" || path == "/index.html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmpl.Execute(w, indexData{
			Version: Version,
			Year:    time.Now().Year(),
			Station: stationLabel(s.config.Snapshot()),
		}); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	if serveStaticFile(w, path) {
		return
	}
	http.NotFound(w, r)
}

func stationLabel(snap config.Snapshot) string {
	if snap.Metadata.SystemLabel != "" {
		return snap.Metadata.SystemLabel
	}
	return "RDIO-VOX"
}

// Serve listens on the configured port until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
