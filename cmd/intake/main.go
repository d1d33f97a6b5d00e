package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"medintake/internal/chat"
	"medintake/internal/config"
	"medintake/internal/logging"
	"medintake/internal/session"
	"medintake/internal/store"
	"medintake/internal/usage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration
	noPersist  bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "intake - conversational appointment intake",
	Long: `intake collects the data needed to book a medical appointment from a
free-form conversation in Portuguese.

Each message is run through entity extraction, field validation and a
decision policy that picks the next action: extract, ask, confirm,
complete or error. Confirmed appointments are stored as consultations.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: runInteractiveChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.intake/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout for one-shot commands")
	rootCmd.PersistentFlags().BoolVar(&noPersist, "no-persist", false, "Keep sessions in memory only")

	rootCmd.AddCommand(
		sendCmd,
		validateCmd,
		sessionsCmd,
		consultationsCmd,
		mcpCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the workspace flag or the working directory.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	ws, err := os.Getwd()
	if err != nil {
		return "."
	}
	return ws
}

// resolveConfigPath returns the config flag or the workspace default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(resolveWorkspace(), ".intake", "config.yaml")
}

// inWorkspace anchors relative paths at the workspace.
func inWorkspace(path string) string {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(resolveWorkspace(), path)
}

func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if verbose {
		cfg.Logging.DebugMode = true
	}
	if err := logging.Initialize(resolveWorkspace(), cfg.Logging.Settings()); err != nil {
		logger.Warn("file logging disabled", zap.Error(err))
	}
	return cfg, nil
}

// app bundles the service with the resources it owns.
type app struct {
	cfg      *config.Config
	svc      *chat.Service
	db       *store.Store
	sessions session.Store
	usage    *usage.Tracker
}

// Close flushes usage and releases the databases.
func (a *app) Close() {
	if err := a.usage.Close(); err != nil {
		logger.Warn("saving token usage", zap.Error(err))
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			logger.Warn("closing session store", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("closing consultation store", zap.Error(err))
		}
	}
}

// openApp loads the config and wires the intake service.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg)
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	dbPath := inWorkspace(cfg.Store.DatabasePath)
	db, err := store.Open(cfg.Store.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open consultation store: %w", err)
	}

	a := &app{cfg: cfg, db: db}
	if cfg.Store.PersistSessions && !noPersist {
		sessPath := ":memory:"
		if dbPath != ":memory:" {
			sessPath = filepath.Join(filepath.Dir(dbPath), "sessions.db")
		}
		sql, err := session.NewSQLStore(sessPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		a.sessions = sql
	} else {
		a.sessions = session.NewMemoryStore()
	}

	components, err := chat.BuildComponents(ctx, cfg, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	tracker, err := usage.NewTracker(usageDir(dbPath))
	if err != nil {
		logger.Warn("token usage tracking disabled", zap.Error(err))
	}
	a.usage = tracker
	a.svc = chat.NewService(components, a.sessions, db, cfg.GetSessionTTL()).WithUsage(tracker)
	logger.Debug("intake service ready",
		zap.String("extractor", a.svc.Extractor()),
		zap.String("mode", string(components.Mode)),
		zap.String("database", dbPath),
		zap.String("driver", db.Driver()),
	)
	return a, nil
}

// usageDir keeps usage.json next to the database; in-memory databases get
// in-memory usage.
func usageDir(dbPath string) string {
	if dbPath == ":memory:" {
		return ""
	}
	return filepath.Dir(dbPath)
}

// commandContext returns a context canceled by SIGINT/SIGTERM or the
// timeout flag, whichever comes first.
func commandContext(withTimeout bool) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if !withTimeout || timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
