package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/oauth2"

	"github.com/kalambet/tagask/internal/api"
	"github.com/kalambet/tagask/internal/config"
	"github.com/kalambet/tagask/internal/graph"
	"github.com/kalambet/tagask/internal/history"
	"github.com/kalambet/tagask/internal/leaderboard"
	"github.com/kalambet/tagask/internal/ollama"
	"github.com/kalambet/tagask/internal/storage"
	"github.com/kalambet/tagask/internal/storage/mongostore"
	"github.com/kalambet/tagask/internal/summarize"
	"github.com/kalambet/tagask/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tagask server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tagask server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tagask system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve the MCP tools on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tagask.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newLogger writes JSON logs to stderr; stdout belongs to MCP.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func openStore(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	if cfg.Storage.Backend == "mongo" {
		s, err := mongostore.Open(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSummarizer(ctx context.Context, cfg config.Config, logger *zap.Logger) (summarize.Summarizer, error) {
	sc := cfg.Summarizer
	if sc.Backend == summarize.BackendOllama {
		if err := ollama.EnsureModel(ctx, ollama.New(sc.OllamaURL), sc.OllamaModel, logger); err != nil {
			return nil, err
		}
	}
	var flowToken oauth2.TokenSource
	if sc.FlowToken != "" {
		flowToken = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: sc.FlowToken})
	}
	return summarize.New(ctx, summarize.Options{
		Backend:      sc.Backend,
		FlowURL:      sc.FlowURL,
		FlowToken:    flowToken,
		OllamaURL:    sc.OllamaURL,
		OllamaModel:  sc.OllamaModel,
		GeminiAPIKey: sc.GeminiAPIKey,
		GeminiModel:  sc.GeminiModel,
	})
}

// app holds everything the HTTP API, the MCP server and the worker share.
type app struct {
	store  storage.Backend
	deps   api.Deps
	worker *worker.Worker
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	token, err := config.APIToken(cfg, config.NewSecretStore())
	if err != nil {
		return nil, fmt.Errorf("initializing API token: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	creds := graph.AppCredentials{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		TokenURL:     cfg.Graph.TokenURL,
	}
	var appToken oauth2.TokenSource
	if creds.Configured() {
		appToken = creds.TokenSource(ctx)
	} else {
		logger.Warn("graph app credentials not configured; requests must carry a caller token")
	}
	graphOpts := []graph.Option{graph.WithBaseURL(cfg.Graph.BaseURL), graph.WithLogger(logger)}
	if cfg.Graph.MailSender != "" {
		graphOpts = append(graphOpts, graph.WithMailSender(cfg.Graph.MailSender))
	}
	providers := graph.NewFactory(appToken, graphOpts...)

	hist := history.New(store, logger)
	deps := api.Deps{
		Token:         token,
		Providers:     providers,
		Ledger:        leaderboard.New(store),
		History:       hist,
		MaxAttempts:   cfg.Worker.MaxAttempts,
		DefaultTeamID: cfg.Graph.TeamID,
		Logger:        logger,
	}

	a := &app{store: store, deps: deps}
	summarizer, err := newSummarizer(ctx, cfg, logger)
	if err != nil {
		logger.Warn("summaries disabled", zap.String("backend", cfg.Summarizer.Backend), zap.Error(err))
		return a, nil
	}
	bridge := summarize.NewBridge(summarizer, logger)
	a.deps.Bridge = bridge
	a.deps.Jobs = store
	a.worker = worker.New(store, bridge, providers, hist, cfg.Worker.Poll(), logger)
	return a, nil
}

func (a *app) close(logger *zap.Logger) {
	if err := a.store.Close(); err != nil {
		logger.Warn("closing storage", zap.Error(err))
	}
}

func serveMCP(ctx context.Context, deps api.Deps, logger *zap.Logger) error {
	stdio := server.NewStdioServer(api.NewMCPServer(deps, version))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("MCP stdio server error", zap.Error(err))
		return err
	}
	return nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "tagask version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tagask is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tagask is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	if a.worker != nil {
		go a.worker.Run(ctx)
	}
	if withMCP {
		go serveMCP(ctx, a.deps, logger)
		logger.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(a.deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tagask listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	if a.worker != nil {
		go a.worker.Run(ctx)
	}
	return serveMCP(ctx, a.deps, logger)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tagask is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tagask (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tagask (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Partial status is still useful.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Storage", "%s", cfg.Storage.Backend)
	printStatus("Summarizer", "%s", cfg.Summarizer.Backend)
	if cfg.GraphAppConfigured() {
		printStatus("Graph", "app credentials for client %s", cfg.Graph.ClientID)
	} else {
		printStatus("Graph", "caller tokens only")
	}
	if cfg.Graph.TeamID != "" {
		printStatus("Team", "%s", cfg.Graph.TeamID)
	}

	if running {
		if c, err := newAPIClient(); err == nil {
			if board, err := fetchLeaderboard(context.Background(), c); err == nil {
				printStatus("Helpers", "%d", len(board))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
