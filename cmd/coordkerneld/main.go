// Command coordkerneld wires the storage adapter and event store into
// one process exposing the durable stream endpoint and a replay-trigger
// endpoint over HTTP. The replay endpoint reports failures with the
// boundary error envelope from §6; the stream endpoint replies with
// plain-text HTTP errors.
// It intentionally stays thin: command-line wizards, the coordinator's
// own decomposition logic, and the plugin-host tool adapter that would
// bind messaging/reservations/cells/memory operations to an external
// agent runtime are out of scope (§1) — those packages are Go libraries
// an in-process coordinator constructs and calls directly.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/basket/coordkernel/internal/cells"
	"github.com/basket/coordkernel/internal/config"
	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/replay"
	"github.com/basket/coordkernel/internal/reservations"
	"github.com/basket/coordkernel/internal/scheduler"
	"github.com/basket/coordkernel/internal/storage"
	"github.com/basket/coordkernel/internal/stream"
	"github.com/basket/coordkernel/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("COORDKERNEL_CONFIG"))
	if err != nil {
		return err
	}

	logger, closeLog, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	adapter, migrations, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer adapter.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracing, err := telemetry.InitTracing(ctx, telemetry.TraceConfig(cfg.Tracing))
	if err != nil {
		return err
	}
	defer tracing.Shutdown(context.Background())

	if err := storage.Migrate(ctx, adapter, migrations); err != nil {
		return err
	}

	store := kernel.New(adapter, logger)
	reservationsSvc := reservations.New(store)
	cellsSvc := cells.New(store)
	replayer := replay.New(store)
	streamSrv := stream.New(store, logger)

	sched, err := scheduler.New(scheduler.Config{
		Reservations: reservationsSvc,
		Cells:        cellsSvc,
		Logger:       logger,
		ProjectKeys:  func() []string { return listProjectKeys(ctx, adapter, logger) },
		ExportDir:    func(projectKey string) string { return filepath.Join(cfg.HomeDir, "exports", projectKey) },
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/streams/", streamSrv)
	mux.HandleFunc("/replay/", replayHandler(replayer))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := cfg.SocketAddr
	if addr == "" {
		addr = "127.0.0.1:7411"
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		streamSrv.Stop()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("coordkerneld listening", "addr", addr, "backend", cfg.Backend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// replayHandler exposes POST /replay/{projectKey}?clear=true, rebuilding
// projections for one project from its event log (§4.9).
func replayHandler(replayer *replay.Replayer) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		projectKey := strings.TrimPrefix(req.URL.Path, "/replay/")
		if projectKey == "" || strings.Contains(projectKey, "/") {
			http.NotFound(w, req)
			return
		}
		result, err := replayer.ReplayEvents(req.Context(), replay.Options{
			ProjectKey: projectKey,
			ClearViews: req.URL.Query().Get("clear") == "true",
		})
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(statusForKind(errs.KindOf(err)))
			_ = json.NewEncoder(w).Encode(errs.ToEnvelope(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

// statusForKind maps the closed errs.Kind set (§7) onto an HTTP status
// for handlers that surface the boundary error envelope.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.Invalid:
		return http.StatusBadRequest
	case errs.Unavailable:
		return http.StatusServiceUnavailable
	case errs.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// openStorage opens the backend named in cfg. For SQLite, the file lives
// at a path derived from the current project's absolute directory
// (COORDKERNEL_PROJECT_PATH, defaulting to the working directory), so
// distinct projects on the same machine never share a database (§6).
func openStorage(cfg *config.Config) (storage.Adapter, []storage.Migration, error) {
	if cfg.Backend == config.BackendPostgres {
		adapter, err := storage.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return adapter, storage.PostgresMigrations(), nil
	}
	projectPath := os.Getenv("COORDKERNEL_PROJECT_PATH")
	if projectPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, err
		}
		projectPath = wd
	}
	if err := os.MkdirAll(cfg.SQLiteBaseDir, 0o755); err != nil {
		return nil, nil, err
	}
	adapter, err := storage.OpenSQLite(cfg.DBPath(projectPath))
	if err != nil {
		return nil, nil, err
	}
	return adapter, storage.SQLiteMigrations(), nil
}

func listProjectKeys(ctx context.Context, adapter storage.Adapter, logger *slog.Logger) []string {
	rows, err := adapter.Query(ctx, "SELECT DISTINCT project_key FROM agents")
	if err != nil {
		logger.Warn("list project keys failed", "error", err)
		return nil
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		if v, ok := r["project_key"]; ok && v != nil {
			if s, ok := v.(string); ok {
				keys = append(keys, s)
			}
		}
	}
	return keys
}
