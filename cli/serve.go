package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zot/xwalk-lua/internal/config"
	"github.com/zot/xwalk-lua/internal/devhost"
)

func isScript(arg string) bool {
	return strings.HasSuffix(arg, ".lua")
}

// loadConfig parses flags and requires a script.
func loadConfig(args []string, stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	if cfg.Extension.Script == "" {
		fmt.Fprintln(stderr, "Error: no script given")
		return nil, false
	}
	return cfg, true
}

func runServe(args []string, stdout, stderr io.Writer) int {
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
	if st := srv.Status(); st.Error != "" {
		fmt.Fprintf(stderr, "Error: %s\n", st.Error)
		if !cfg.Dev.Watch {
			srv.Close()
			return 1
		}
		fmt.Fprintln(stderr, "Waiting for the script to change...")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.ListenAndServe(ctx, func(url string) {
		fmt.Fprintf(stdout, "Serving %s at %s\n", cfg.Extension.Script, url)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
