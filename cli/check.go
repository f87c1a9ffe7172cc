package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/zot/xwalk-lua/internal/devhost"
	"github.com/zot/xwalk-lua/internal/host/inproc"
	"github.com/zot/xwalk-lua/internal/plugin"
)

// runCheck bootstraps the script against an in-process host, creates one
// instance, and reports what the script registered.
func runCheck(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(args, stderr)
	if !ok {
		return 1
	}
	defer cfg.Sync()

	script, err := filepath.Abs(cfg.Extension.Script)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	h := inproc.New(devhost.ExtensionPath(script))
	p := plugin.New(cfg)
	if err := p.Initialize(h); err != nil {
		fmt.Fprintf(stderr, "FAIL %s: %v (state %s)\n", script, err, p.State())
		return 1
	}
	defer h.Shutdown()

	reg := p.Registry()
	fmt.Fprintf(stdout, "extension:  %s\n", reg.ExtensionName())
	fmt.Fprintf(stdout, "module:     %s\n", p.Location().Module)
	fmt.Fprintf(stdout, "api:        %d bytes\n", len(reg.JavaScriptAPI()))
	fmt.Fprintf(stdout, "lifecycle:  created=%s destroyed=%s\n",
		yesNo(reg.InstanceCreated() != nil), yesNo(reg.InstanceDestroyed() != nil))

	id, err := h.CreateInstance()
	if err != nil {
		fmt.Fprintf(stderr, "FAIL creating instance: %v\n", err)
		return 1
	}
	async, sync := reg.HasGlobalHandlers()
	fmt.Fprintf(stdout, "handlers:   async=%d sync=%d global-async=%s global-sync=%s (after instance %d)\n",
		reg.Async.Len(), reg.Sync.Len(), yesNo(async), yesNo(sync), id)
	fmt.Fprintln(stdout, "OK")
	return 0
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
