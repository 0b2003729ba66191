package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// CLI loads configuration from command-line flags using dot notation for
// nesting: --server.addr=:9090 becomes {server: {addr: ":9090"}}. Both
// --flag=value and --flag value forms work; unknown non-flag arguments are
// ignored. Values stay strings until binding.
//
// CLI should be the last source in the chain so flags override everything.
type CLI struct {
	// Args overrides os.Args[1:], mainly for tests.
	Args []string
}

func (c *CLI) Name() string { return "cli" }

func (c *CLI) Load(_ context.Context) (map[string]any, error) {
	args := c.Args
	if args == nil {
		args = os.Args[1:]
	}

	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// First pass: register every flag-looking argument as a string flag so
	// pflag can parse values in either form.
	registered := make(map[string]bool)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := flagName(arg)
		if name == "" {
			continue
		}
		if !registered[name] {
			fs.String(name, "", fmt.Sprintf("config value for %s", name))
			registered[name] = true
		}
		if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
		}
	}
	_ = fs.Parse(args)

	result := make(map[string]any)
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed || f.Value.String() == "" {
			return
		}
		setNestedValue(result, strings.Split(f.Name, "."), f.Value.String())
	})
	return result, nil
}

func flagName(arg string) string {
	arg = strings.TrimLeft(arg, "-")
	if idx := strings.Index(arg, "="); idx != -1 {
		arg = arg[:idx]
	}
	return arg
}
