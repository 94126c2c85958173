package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/signalridge/cruxe/internal/config"
	"github.com/signalridge/cruxe/internal/embed"
	"github.com/signalridge/cruxe/internal/logging"
	"github.com/signalridge/cruxe/internal/mcp"
	"github.com/signalridge/cruxe/internal/search"
	"github.com/signalridge/cruxe/internal/store"
	"github.com/signalridge/cruxe/internal/watcher"
)

// defaultWatcherStartupTimeout bounds how long serve waits for the file
// watcher before giving up and starting the MCP server anyway. BUG-035:
// MCP clients expect a handshake response within ~500ms; watcher startup
// on a large or slow-disk tree can take seconds, so it must never block
// the server loop.
const defaultWatcherStartupTimeout = 2 * time.Second

func newServeCmd() *cobra.Command {
	var transport string
	var port int
	var session string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server for this project.

Serves search_code, locate, outline, build_context_pack, call_graph, and
compare as MCP tools over stdio (or, in future, SSE).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				cleanup, err := logging.SetupMCPModeWithLevel("debug")
				if err == nil {
					defer cleanup()
				}
			}
			if session != "" {
				root, err := config.FindProjectRoot(".")
				if err != nil {
					root, _ = os.Getwd()
				}
				return runServeWithSession(cmd.Context(), session, root, transport, port)
			}
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio|sse)")
	cmd.Flags().IntVar(&port, "port", 8765, "Port for SSE transport")
	cmd.Flags().StringVar(&session, "session", "", "Resume a saved session by name instead of the current directory")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose MCP-safe logging (file only, never stdout)")

	return cmd
}

// runServe starts the MCP server for the project rooted at the current
// directory.
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return serveProject(ctx, root, transport, port)
}

// runServeWithSession starts the MCP server for a resumed session's
// project path.
func runServeWithSession(ctx context.Context, _ /* sessionName */, rootPath, transport string, port int) error {
	if _, cleanup, err := logging.Setup(mcpLoggingConfig()); err == nil {
		defer cleanup()
	}
	return serveProject(ctx, rootPath, transport, port)
}

// mcpLoggingConfig mirrors logging.SetupMCPMode's file-only policy; kept
// separate so runServeWithSession and serveProject don't double-init.
func mcpLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	return cfg
}

// serveProject wires up the stores, embedder, search engine, and file
// watcher for rootPath and blocks serving MCP requests until ctx is
// canceled. BUG-034: nothing here may write to stdout — the MCP stdio
// transport owns that stream exclusively.
func serveProject(ctx context.Context, rootPath, transport string, port int) error {
	dataDir := filepath.Join(rootPath, ".cruxe")

	cfg, err := config.Load(rootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	embedProvider := embed.ParseProvider(cfg.Embeddings.Provider)
	if envProvider := os.Getenv("CRUXE_EMBEDDER"); envProvider != "" {
		embedProvider = embed.ParseProvider(envProvider)
	}
	embedder, err := embed.NewEmbedder(ctx, embedProvider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		_ = vector.Load(vectorPath)
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	engine := search.New(bm25, vector, embedder, metadata, engineConfig)

	srv, err := mcp.NewServer(engine, metadata, embedder, cfg, rootPath)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	startFileWatcherAsync(ctx, rootPath)

	addr := ""
	if transport == "sse" {
		addr = fmt.Sprintf(":%d", port)
	}
	return srv.Serve(ctx, transport, addr)
}

// startFileWatcherAsync starts the hybrid file watcher in the background.
// It never blocks the caller: watcher construction/startup runs in its
// own goroutine, bounded by defaultWatcherStartupTimeout (overridable via
// CRUXE_WATCHER_STARTUP_TIMEOUT for slow-filesystem testing).
func startFileWatcherAsync(ctx context.Context, rootPath string) {
	timeout := defaultWatcherStartupTimeout
	if raw := os.Getenv("CRUXE_WATCHER_STARTUP_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}

	go func() {
		startCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		w, err := watcher.NewHybridWatcher(watcher.Options{})
		if err != nil {
			return
		}
		if err := w.Start(startCtx, rootPath); err != nil {
			return
		}
		go func() {
			<-ctx.Done()
			_ = w.Stop()
		}()
	}()
}

// verifyStdinForMCP checks that stdin looks like a pipe rather than an
// interactive terminal, since the MCP stdio transport expects a
// machine-driven JSON-RPC peer on the other end, not a human.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdin is a terminal, not a pipe: the MCP server expects a JSON-RPC client on stdin, run it from an MCP-aware host instead of an interactive shell")
	}
	return nil
}
