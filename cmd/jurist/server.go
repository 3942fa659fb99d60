package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/jurist/internal/advisor"
	"github.com/kalambet/jurist/internal/api"
	"github.com/kalambet/jurist/internal/automation"
	"github.com/kalambet/jurist/internal/blob"
	"github.com/kalambet/jurist/internal/config"
	"github.com/kalambet/jurist/internal/extract"
	"github.com/kalambet/jurist/internal/ingest"
	"github.com/kalambet/jurist/internal/logging"
	"github.com/kalambet/jurist/internal/pipeline"
	"github.com/kalambet/jurist/internal/proxy"
	"github.com/kalambet/jurist/internal/realtime"
	"github.com/kalambet/jurist/internal/retrieval"
	"github.com/kalambet/jurist/internal/search"
	"github.com/kalambet/jurist/internal/storage"
	"github.com/kalambet/jurist/internal/tagging"
	"github.com/kalambet/jurist/internal/tasks"
)

const (
	// taskTimeout bounds each background task: one provider call plus writes.
	taskTimeout   = 5 * time.Minute
	drainTimeout  = 30 * time.Second
	shutdownGrace = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the jurist HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the jurist tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show jurist server status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

// app is the wired service graph shared by serve and mcp.
type app struct {
	store  *storage.Store
	index  *search.Index
	hub    *realtime.Hub
	runner *tasks.Runner
	orch   *pipeline.Orchestrator
	blobs  *blob.Dir
	worker *ingest.Worker
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	blobs, err := blob.NewDir(filepath.Join(cfg.Storage.DataDir, "uploads"))
	if err != nil {
		store.Close()
		return nil, err
	}
	tagger, err := tagging.Load(cfg.Tagging.TablePath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading tag table: %w", err)
	}
	index, err := search.NewIndex()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating search index: %w", err)
	}

	client := proxy.NewClient(cfg.Provider.APIKey, cfg.Provider.BaseURL, time.Duration(cfg.Provider.TimeoutSecs)*time.Second)
	embedder := retrieval.NewEmbedder(client, cfg.Provider.EmbedModel, cfg.Provider.EmbedDimensions)
	retriever := retrieval.NewRetriever(embedder, retrieval.NewSQLiteStore(store.DB()))

	dispatcher := automation.NewDispatcher(cfg.Automation.BaseURL, cfg.Automation.Secret)
	if !dispatcher.Enabled() {
		slog.Info("automation endpoint not configured, events will not be delivered")
	}

	adv := advisor.New(advisor.Options{
		Completer:        client,
		ChatModel:        cfg.Provider.ChatModel,
		ArticleModel:     cfg.Provider.ArticleModel,
		Retriever:        retriever,
		ContextLimit:     cfg.Retrieval.ContextLimit,
		ContextThreshold: cfg.Retrieval.ContextThreshold,
		Embedder:         embedder,
		Classifier:       tagger,
		Store:            store,
		Automation:       dispatcher,
	})

	hub := realtime.NewHub()
	runner := tasks.NewRunner(taskTimeout)
	orch := pipeline.New(pipeline.Options{
		Store:            store,
		Answerer:         adv,
		Transcriber:      client,
		TranscribeModel:  cfg.Provider.TranscribeModel,
		Extractor:        extract.New(),
		Blobs:            blobs,
		Notifier:         hub,
		Similarity:       retriever,
		Search:           index,
		Runner:           runner,
		SimilarThreshold: cfg.Retrieval.SimilarThreshold,
	})

	n, err := orch.RebuildSearch(ctx)
	if err != nil {
		slog.Warn("rebuilding search index failed", "error", err)
	} else {
		slog.Info("search index rebuilt", "documents", n)
	}

	return &app{
		store:  store,
		index:  index,
		hub:    hub,
		runner: runner,
		orch:   orch,
		blobs:  blobs,
		worker: ingest.NewWorker(store, embedder, 0),
	}, nil
}

// close waits for background tasks, then releases the index and the store.
func (a *app) close() {
	if !a.runner.WaitTimeout(drainTimeout) {
		slog.Warn("background tasks still running at shutdown", "timeout", drainTimeout)
	}
	if err := a.index.Close(); err != nil {
		slog.Warn("closing search index", "error", err)
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "jurist version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.API.Token == "" {
		return fmt.Errorf("missing required config: API token. Set it via environment variable JURIST_API_TOKEN")
	}
	setupLogging(cfg)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + addr + "/health"); err == nil {
		resp.Body.Close()
		printWarning("jurist is already running on %s", addr)
		return fmt.Errorf("server already running on %s", addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	handler := api.NewAppHandler(api.AppDeps{
		Service:  a.orch,
		Uploads:  a.blobs,
		Events:   a.hub,
		Backfill: a.worker,
		Token:    cfg.API.Token,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("jurist listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Service: a.orch, Events: a.hub})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus() error {
	cfg, err := config.LoadClient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://%s", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", serverURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.Provider.BaseURL)
	printStatus("Chat model", "%s", cfg.Provider.ChatModel)
	printStatus("Embed model", "%s (%d dims)", cfg.Provider.EmbedModel, cfg.Provider.EmbedDimensions)
	if cfg.Automation.BaseURL != "" {
		printStatus("Automation", "%s", cfg.Automation.BaseURL)
	} else {
		printStatus("Automation", "disabled")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
