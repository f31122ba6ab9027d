package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	pflowmcp "github.com/spinje/pflow-sub005/mcp"
)

// runMCP starts the pflow MCP (Model Context Protocol) server over stdio.
func runMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: pflow mcp [options]

Start the pflow MCP (Model Context Protocol) server over stdio.
The server provides tools for listing capabilities and saved workflows,
validating workflow IR, planning workflows from requests, and running them.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), `
Example MCP client configuration:

  {
    "mcpServers": {
      "pflow": {
        "command": "pflow",
        "args": ["-config", "/path/to/pflow.yaml", "mcp"]
      }
    }
  }
`)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{watch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Metrics.Addr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		stop := serveMetrics(a, addr)
		defer stop()
	}

	opts := []pflowmcp.ServerOption{
		pflowmcp.WithWorkflowStore(a.workflows),
		pflowmcp.WithExecutorOptions(a.execOptions()...),
		pflowmcp.WithLogger(a.logger),
	}
	if p, err := a.planner(); err == nil {
		opts = append(opts, pflowmcp.WithPlanner(p))
	} else {
		a.logger.Warn("plan_workflow disabled", "error", err)
	}

	pflowmcp.Version = version
	srv := pflowmcp.NewServer(a.registry, opts...)
	a.logger.Info("MCP server started", "capabilities", a.registry.Len())
	return srv.ServeStdio()
}

func serveMetrics(a *app, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("Metrics server started", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
