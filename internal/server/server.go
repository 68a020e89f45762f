// Package server orchestrates all components: vault, query index, handler
// registry, dispatch loop and the HTTP health endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/morezero/vault-bridge/internal/config"
	"github.com/morezero/vault-bridge/pkg/bridge"
	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/handlers"
	"github.com/morezero/vault-bridge/pkg/query"
	"github.com/morezero/vault-bridge/pkg/queueutil"
	"github.com/morezero/vault-bridge/pkg/transport"
	"github.com/morezero/vault-bridge/pkg/vault"
)

const logPrefix = "server:server"

// loopForServer is the part of the dispatch loop the HTTP handlers read.
type loopForServer interface {
	Status() bridge.Status
}

// settingsForServer lists the configured environments.
type settingsForServer interface {
	Load() (*config.SettingsFile, error)
}

// Server is the vault-bridge orchestrator.
type Server struct {
	cfg        *config.Config
	loop       loopForServer
	settings   settingsForServer
	methods    []string
	httpServer *http.Server
}

// ConfigureLogging installs the process-wide slog handler for level.
func ConfigureLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// BuildDeps opens the vault and its collaborators from cfg. The returned
// cleanup releases them.
func BuildDeps(ctx context.Context, cfg *config.Config) (handlers.Deps, func(), error) {
	v, err := vault.Open(cfg.VaultPath)
	if err != nil {
		return handlers.Deps{}, nil, fmt.Errorf("%s - failed to open vault: %w", logPrefix, err)
	}

	deps := handlers.Deps{
		Files: v,
		Commands: vault.NewCommands(v, vault.DailyNotes{
			Folder:   cfg.DailyNotesFolder,
			Format:   cfg.DailyNotesFormat,
			Template: cfg.DailyNotesTemplate,
		}),
	}
	cleanup := func() {}

	if cfg.QueryEnabled {
		engine, err := query.Open(ctx, v, cfg.QueryIndexDSN)
		if err != nil {
			return handlers.Deps{}, nil, fmt.Errorf("%s - failed to open query index: %w", logPrefix, err)
		}
		deps.Query = engine
		cleanup = func() { engine.Close() }
	} else {
		slog.Info(fmt.Sprintf("%s - Query engine disabled", logPrefix))
	}
	return deps, cleanup, nil
}

// Run starts the bridge, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	ConfigureLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting vault-bridge", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Open the vault, commands and query index
	deps, cleanup, err := BuildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Step 2: Build the handler registry and dispatcher
	reg := handlers.NewRegistry(deps)
	disp := dispatcher.NewDispatcher(reg)

	// Step 3: Connection settings
	settingsPath := config.ResolveSettingsPath(cfg.SettingsFile)
	settings := config.NewSettingsStore(settingsPath)
	slog.Info(fmt.Sprintf("%s - Connection settings file: %s", logPrefix, settingsPath))

	// Step 4: Dispatch loop
	loop := bridge.NewLoop(bridge.Options{
		Keys:       queueutil.NewKeys(cfg.Namespace),
		Settings:   settings,
		Dispatcher: disp,
		Transport:  transport.Options{Name: cfg.ServiceName, KeyTTL: cfg.KeyTTL},
		PopTimeout: cfg.PopTimeout,
		IdleDelay:  cfg.IdleDelay,
	})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	// Step 5: Start HTTP health server
	s := &Server{cfg: cfg, loop: loop, settings: settings, methods: reg.Methods()}
	httpAddr := cfg.HTTPListenAddr()
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - vault-bridge is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	cancel()
	<-loopDone
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	s.httpServer.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", s.handleReady())
	return mux
}

// healthOutput is the /health body.
type healthOutput struct {
	Status    string        `json:"status"`
	Loop      bridge.Status `json:"loop"`
	Methods   []string      `json:"methods"`
	Timestamp string        `json:"timestamp"`
}

func (s *Server) health() *healthOutput {
	st := s.loop.Status()
	status := "healthy"
	if st.State == bridge.StateFaulted.String() {
		status = "unhealthy"
	}
	return &healthOutput{
		Status:    status,
		Loop:      st,
		Methods:   s.methods,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := s.health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

// handleReady reports ready once the loop holds a connection.
func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.loop.Status().State
		ready := state == bridge.StateReady.String() ||
			state == bridge.StateWaiting.String() ||
			state == bridge.StateProcessing.String()

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "state": state})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// homePageTemplate is the HTML for the bridge status page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Vault Bridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Vault Bridge</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Loop: <span class="stat">{{.Health.Loop.State}}</span> (user {{.Health.Loop.UserID}})</p>
    <p>Processed: <span class="stat">{{.Health.Loop.Processed}}</span>, failed: <span class="stat">{{.Health.Loop.Failed}}</span>, dropped: <span class="stat">{{.Health.Loop.Dropped}}</span></p>
    {{if not .Health.Loop.LastHeartbeat.IsZero}}<p>Last heartbeat: {{.Health.Loop.LastHeartbeat.Format "2006-01-02T15:04:05Z07:00"}}</p>{{end}}
    {{if .Health.Loop.LastError}}<p class="error">Last error: {{.Health.Loop.LastError}}</p>{{end}}
  </section>

  <section>
    <h2>Environments</h2>
    {{if .SettingsError}}
    <p class="error">Could not load settings: {{.SettingsError}}</p>
    {{else}}
    <table>
      <thead><tr><th>Name</th><th>User</th><th>Queue URL</th><th>Active</th></tr></thead>
      <tbody>
        {{range .Environments}}
        <tr><td>{{.Name}}</td><td>{{.UserID}}</td><td>{{.QueueURL}}</td><td>{{if .Active}}yes{{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Methods</h2>
    <ul>{{range .Health.Methods}}<li>{{.}}</li>{{end}}</ul>
  </section>
</body>
</html>
`

type environmentRow struct {
	Name     string
	UserID   int
	QueueURL string
	Active   bool
}

// homeData is the data passed to the home page template.
type homeData struct {
	Health        *healthOutput
	Environments  []environmentRow
	SettingsError string
}

// handleHome returns an HTTP handler for the bridge status page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		data := homeData{Health: s.health()}
		if f, err := s.loadSettings(); err != nil {
			data.SettingsError = err.Error()
		} else {
			for _, name := range f.Names() {
				env := f.Environments[name]
				data.Environments = append(data.Environments, environmentRow{
					Name: name, UserID: env.UserID, QueueURL: redactURL(env.QueueURL), Active: name == f.Active,
				})
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) loadSettings() (*config.SettingsFile, error) {
	if s.settings == nil {
		return nil, errors.New("no settings store")
	}
	return s.settings.Load()
}

// redactURL hides any password in a queue URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
