// Command fit is a command-line client for the fitpanda backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// errUsage marks bad command-line input; run exits 2 for it.
var errUsage = errors.New("usage")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

type command func(ctx context.Context, a *app, args []string) (any, error)

var commands = map[string]command{
	"login":          cmdLogin,
	"register":       cmdRegister,
	"profile":        cmdProfile,
	"send-code":      cmdSendCode,
	"reset-password": cmdResetPassword,
	"logout":         cmdLogout,
	"whoami":         cmdWhoami,
	"posts":          cmdPosts,
	"post":           cmdPost,
	"rm-post":        cmdRmPost,
	"comments":       cmdComments,
	"comment":        cmdComment,
	"library":        cmdLibrary,
	"scan":           cmdScan,
	"add-food":       cmdAddFood,
}

func usage(w io.Writer) {
	fmt.Fprint(w, `fit CLI
Usage:
  fit [--config F] [--api URL] [--timeout D] [--data-dir DIR] [--verbose] <cmd> [args]

Commands:
  version
  login          -u <username> -p <password>
  register       -e <email> -u <username> -p <password>
  profile        --height <in> --weight <lb> --sex male|female --goal <text> [--name N]
  send-code      -e <email>
  reset-password -e <email> --code <code> --new <password>
  logout
  whoami
  posts
  post           -m <text>
  rm-post        --id <post id>
  comments       --post <post id>
  comment        --post <post id> -m <text>
  library        [list | rm --id <id> | clear]
  scan           <barcode> [--save]
  add-food       --name N [--brand B] [--calories C] [--carbs G] [--protein G] [--fat G]
`)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses global flags, wires the app and dispatches one command. It
// returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("fit", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	configPath := fs.String("config", "", "config file (default $XDG_CONFIG_HOME/fitpanda/config.toml)")
	apiBase := fs.String("api", "", "backend base URL")
	timeout := fs.Duration("timeout", 0, "per-request timeout")
	dataDir := fs.String("data-dir", "", "directory for local data")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	verbose := fs.BoolP("verbose", "v", false, "human-readable debug logs")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return 2
	}
	name, rest := fs.Arg(0), fs.Args()[1:]

	if name == "version" {
		printJSON(stdout, map[string]string{"version": version, "buildDate": buildDate})
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		usage(stderr)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fail(stderr, err)
	}
	err = cfg.Apply(config.Overrides{APIBase: *apiBase, RequestTimeout: *timeout, DataDir: *dataDir, LogLevel: *logLevel})
	if err != nil {
		return fail(stderr, err)
	}
	log, err := newLogger(cfg, *verbose)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = log.Sync() }()

	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.Close()

	start := time.Now()
	out, err := cmd(ctx, a, rest)
	log.Debug("command finished", zap.String("cmd", name), zap.Duration("dur", time.Since(start)), zap.Error(err))
	if err != nil {
		return fail(stderr, err)
	}
	if out != nil {
		printJSON(stdout, out)
	}
	return 0
}

func newLogger(cfg config.Config, verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(w io.Writer, err error) int {
	fmt.Fprintln(w, "error:", err)
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}
