package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/auth"
	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/db"
	"github.com/ugoodapp/ugood/internal/logging"
	"github.com/ugoodapp/ugood/internal/mcp"
	"github.com/ugoodapp/ugood/internal/metrics"
	"github.com/ugoodapp/ugood/internal/pgstore"
	"github.com/ugoodapp/ugood/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "mcp": true,
	"share": true, "edit": true, "history": true,
	"match": true, "current": true, "incoming": true,
	"bless": true, "inbox": true, "upload-url": true, "audio-url": true,
	"rollover": true, "token": true,
	"help": true,
}

// env carries what every command needs. Fields are nil for help/version.
type env struct {
	store   store.Store
	cfg     *config.Config
	logger  zerolog.Logger
	metrics metrics.Recorder
}

// presigner builds the audio presigner, or returns nil with a warning when
// audio storage is not configured.
func (e *env) presigner(ctx context.Context) *audio.Presigner {
	p, err := audio.New(ctx, e.cfg.Audio)
	if err != nil {
		e.logger.Warn().Err(err).Msg("blessing playback disabled")
		return nil
	}
	return p
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _   _  ____                 _
  | | | |/ ___| ___   ___   __| |
  | | | | |  _ / _ \ / _ \ / _' |
  | |_| | |_| | (_) | (_) | (_| |
   \___/ \____|\___/ \___/ \__,_|

  Share a trouble, receive a blessing

  Usage: ugood <command> [options]
         ugood --help

  MCP server mode requires piped input.`)
}

// openStore opens the configured backend and wraps it with metrics.
func openStore(ctx context.Context, baseDir string, cfg *config.Config, rec metrics.Recorder) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := pgstore.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st = pg
	default:
		sq, err := db.Open(baseDir, cfg)
		if err != nil {
			return nil, err
		}
		st = sq
	}
	return metrics.InstrumentStore(st, rec), nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before store init (no store needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".ugood")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	rec := metrics.New(cfg.Metrics)
	st, err := openStore(context.Background(), baseDir, cfg, rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if unknown := mcp.ValidateDisabledTools(cfg.MCP.DisabledTools); len(unknown) > 0 {
		logger.Warn().Strs("tools", unknown).Msg("unknown tools in mcp.disabled_tools")
	}

	e := &env{store: st, cfg: cfg, logger: logger, metrics: rec}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(e)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			st.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'ugood --help' for usage.\n")
		st.Close()
		os.Exit(1)
	}

	// MCP server mode (default)
	identity := auth.NewStatic(os.Getenv("UGOOD_USER"))
	if err := mcp.Run(st, cfg, identity, rec, e.presigner(context.Background()), Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		st.Close()
		os.Exit(1)
	}
}
