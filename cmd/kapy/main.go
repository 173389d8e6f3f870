package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/config"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/mcp"
	"github.com/hpungsan/kapy/internal/ops"
	"github.com/hpungsan/kapy/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"append": true, "fetch": true, "scan": true, "search": true,
	"neighborhood": true, "compact": true, "export": true,
	"prefs": true, "skills": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _                     
  | | ____ _ _ __  _   _ 
  | |/ / _' | '_ \| | | |
  |   < (_| | |_) | |_| |
  |_|\_\__,_| .__/ \__, |
            |_|    |___/ 

  Channel-scoped conversational memory

  Usage: kapy <command> [options]
         kapy --help

  MCP server mode requires piped input.`)
}

// loadEnv resolves the base dir, config, logger and store.
func loadEnv() (*ops.Env, error) {
	baseDir, err := config.BaseDir()
	if err != nil {
		return nil, fmt.Errorf("could not determine base directory: %w", err)
	}
	if err := config.LoadEnv(baseDir); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg = config.ApplyEnv(cfg)

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg, config.Resolve(baseDir, cfg.MemoriesDir), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Debug("store opened",
		zap.String("backend", cfg.StoreBackend),
		zap.String("base_dir", baseDir),
	)

	return ops.NewEnv(s, cfg, baseDir, logger), nil
}

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	// No args + interactive terminal → show banner and exit
	if len(args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Help and version need no store.
	if isHelpOrVersion(args) {
		if err := newCLIApp(nil).Run(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	cliMode := isCLIMode(args)

	// Unknown argument + terminal → show error (don't start MCP server)
	if !cliMode && len(args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[1])
		fmt.Fprintf(os.Stderr, "Run 'kapy --help' for usage.\n")
		return 1
	}

	env, err := loadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer env.Store.Close()
	defer func() { _ = env.Logger.Sync() }()

	if cliMode {
		if err := newCLIApp(env).Run(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// MCP server mode (default)
	if err := mcp.Run(env, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
