package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/hpungsan/tabsynth/internal/config"
	"github.com/hpungsan/tabsynth/internal/db"
	"github.com/hpungsan/tabsynth/internal/logging"
	"github.com/hpungsan/tabsynth/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"fit": true, "sample": true, "list": true, "info": true,
	"delete": true, "rename": true, "report": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
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
	title := color.New(color.FgGreen, color.Bold)
	title.Println(`
   _        _                       _   _
  | |_ __ _| |__  ___ _   _ _ __ | |_| |__
  | __/ _' | '_ \/ __| | | | '_ \| __| '_ \
  | || (_| | |_) \__ \ |_| | | | | |_| | | |
   \__\__,_|_.__/|___/\__, |_| |_|\__|_| |_|
                      |___/`)
	fmt.Println(`
  Conditional GAN synthesizer for tabular data

  Usage: tabsynth <command> [options]
         tabsynth --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, color.RedString("error: ")+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".tabsynth")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	cliMode := isCLIMode()
	logOpts := logging.Options{File: cfg.LogFile, Level: cfg.LogLevel}
	if logOpts.File == "" {
		logOpts.File = filepath.Join(baseDir, "tabsynth.log")
	}
	if cliMode {
		// Results go to stdout. In MCP mode stdout carries the protocol, so no console core.
		logOpts.Console = os.Stderr
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		fatal("failed to initialize logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cliMode {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		app := newCLIApp(database, cfg, logger)
		err := app.RunContext(ctx, os.Args)
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tabsynth --help' for usage.\n")
		os.Exit(1)
	}

	logger.Info("starting MCP server", zap.String("version", Version))
	if err := mcp.Run(database, cfg, logger, Version); err != nil {
		logger.Error("MCP server stopped", zap.Error(err))
		fatal("%v", err)
	}
}
