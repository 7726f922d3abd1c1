package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/repogate/internal/audit"
	"github.com/ppiankov/repogate/internal/mcp"
	"github.com/ppiankov/repogate/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operation catalog over MCP stdio",
	Long: "Runs repogate as an MCP server on stdin/stdout. Logs go to stderr.\n" +
		"When health_addr is set, a grpc.health.v1 endpoint is served alongside.\n\n" +
		"Exits 78 when the configuration or App credential is unusable.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.prime(ctx); err != nil {
		return err
	}

	srv, err := mcp.New(mcp.Config{
		Version:      version,
		Operations:   cfg.Operations(),
		Dispatcher:   rt.dispatcher,
		Capabilities: mcp.BuildCapabilities(cfg),
		Status:       rt.status,
		Logger:       rt.log.With("component", "mcp"),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if rt.file != nil {
		w, err := audit.NewWatcher(rt.file, audit.DefaultDebounce, rt.log.With("component", "audit-watcher"))
		if err != nil {
			rt.log.Warn("audit watcher unavailable", "error", err)
		} else {
			go func() {
				if err := w.Run(ctx); err != nil {
					rt.log.Warn("audit watcher stopped", "error", err)
				}
			}()
		}
	}

	if addr := cfg.HealthAddr(); addr != "" {
		hs := server.New(server.Config{
			Checks: map[string]server.Check{
				"credential": rt.credentialCheck,
				"audit":      rt.auditCheck,
			},
			Logger: rt.log.With("component", "health"),
		})
		go func() {
			if err := hs.ListenAndServe(ctx, addr); err != nil {
				rt.log.Error("health endpoint stopped", "error", err)
			}
		}()
	}

	rt.log.Info("repogate serving",
		"version", version,
		"operations", len(cfg.Operations()),
		"auditSink", rt.audit.SinkKind(),
		"configHash", cfg.Hash(),
	)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	rt.log.Info("repogate stopped")
	return nil
}
