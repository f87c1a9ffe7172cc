package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/zot/xwalk-lua/internal/devhost"
	"github.com/zot/xwalk-lua/internal/mcp"
)

// runMCP hosts the script and serves MCP tools for it on stdin/stdout.
// Logs go to stderr or the log file so stdout carries only protocol.
func runMCP(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(args, stderr)
	if !ok {
		return 1
	}
	defer cfg.Sync()

	srv, err := devhost.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer srv.Close()
	if st := srv.Status(); st.Error != "" {
		// the agent can fix the script and call reload
		fmt.Fprintf(stderr, "Warning: %s\n", st.Error)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := mcp.Serve(ctx, mcp.NewServer(srv, Version), stdin, stdout); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
