package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/NeoRed-domo/qualys2human/internal/classify"
	"github.com/NeoRed-domo/qualys2human/internal/config"
	"github.com/NeoRed-domo/qualys2human/internal/db"
	"github.com/NeoRed-domo/qualys2human/internal/importer"
	"github.com/NeoRed-domo/qualys2human/internal/logging"
	"github.com/NeoRed-domo/qualys2human/internal/watcher"
	"github.com/NeoRed-domo/qualys2human/internal/web"
)

func usage() string {
	return "Usage: qualys2human <serve|import|paths>"
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(out, usage())
		return 1
	}

	command := strings.ToLower(args[1])
	switch command {
	case "serve":
		return runServe(args[2:], out, errOut)
	case "import":
		return runImport(args[2:], out, errOut)
	case "paths":
		return runPaths(args[2:], out, errOut)
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage())
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n", command)
		fmt.Fprintln(out, usage())
		return 1
	}
}

func loadConfig(args []string) (config.Config, []string, error) {
	configPath, remaining, err := extractFlag(args, "config", "")
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, remaining, nil
}

func runServe(args []string, out, errOut io.Writer) int {
	cfg, remaining, err := loadConfig(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if len(remaining) > 0 {
		fmt.Fprintf(errOut, "unexpected arguments: %s\n", strings.Join(remaining, " "))
		return 1
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(errOut, "open db: %v\n", err)
		return 1
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uploads := importer.New(database, db.SourceManual, logger.WithField("component", "importer"))
	reclassifier := classify.NewReclassifier(database, logger.WithField("component", "reclassify"))

	autoImports := importer.New(database, db.SourceAuto, logger.WithField("component", "importer"))
	fileWatcher := watcher.New(
		database,
		func(path string) error {
			_, err := autoImports.ImportFile(path)
			return err
		},
		time.Duration(cfg.Watcher.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.Watcher.StableWaitSeconds)*time.Second,
		logger.WithField("component", "watcher"),
	)
	if cfg.Watcher.Enabled {
		go fileWatcher.Run(ctx)
	}

	server := web.NewServer(database, uploads, reclassifier, fileWatcher, logger.WithField("component", "web"))
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", cfg.Server.Addr).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(errOut, "serve: %v\n", err)
		return 1
	}
	return 0
}

func runImport(args []string, out, errOut io.Writer) int {
	cfg, remaining, err := loadConfig(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if len(remaining) < 1 {
		fmt.Fprintln(errOut, "import requires a CSV export file path")
		return 1
	}
	filePath := remaining[0]
	if !filepath.IsAbs(filePath) {
		if abs, err := filepath.Abs(filePath); err == nil {
			filePath = abs
		}
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(errOut, "open db: %v\n", err)
		return 1
	}
	defer database.Close()

	imp := importer.New(database, db.SourceManual, logger.WithField("component", "importer"))
	result, err := imp.ImportFile(filePath)
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "imported %s: job %d %s, %d rows\n",
		filepath.Base(filePath), result.Job.ID, result.Job.Status, result.Job.RowsProcessed)
	return 0
}

func runPaths(args []string, out, errOut io.Writer) int {
	cfg, remaining, err := loadConfig(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if len(remaining) < 1 {
		fmt.Fprintln(errOut, "paths command requires subcommand: list|add <dir>")
		return 1
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(errOut, "open db: %v\n", err)
		return 1
	}
	defer database.Close()

	sub := remaining[0]
	switch sub {
	case "list":
		paths, err := database.ListWatchPaths()
		if err != nil {
			fmt.Fprintf(errOut, "list paths: %v\n", err)
			return 1
		}
		for _, wp := range paths {
			state := "enabled"
			if !wp.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", wp.ID, wp.Path, wp.Pattern, state)
		}
		return 0
	case "add":
		pattern, rest, err := extractFlag(remaining[1:], "pattern", "*.csv")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		recursive := false
		var dirArgs []string
		for _, arg := range rest {
			if arg == "--recursive" || arg == "-recursive" {
				recursive = true
				continue
			}
			dirArgs = append(dirArgs, arg)
		}
		if len(dirArgs) < 1 {
			fmt.Fprintln(errOut, "paths add requires a directory")
			return 1
		}
		dir := dirArgs[0]
		if !filepath.IsAbs(dir) {
			if abs, err := filepath.Abs(dir); err == nil {
				dir = abs
			}
		}
		wp, err := database.CreateWatchPath(db.WatchPath{Path: dir, Pattern: pattern, Recursive: recursive, Enabled: true})
		if err != nil {
			fmt.Fprintf(errOut, "add path: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "added watch path %d\t%s\t%s\n", wp.ID, wp.Path, wp.Pattern)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown paths subcommand: %s\n", sub)
		return 1
	}
}

// extractFlag finds a string flag (e.g., --config value) anywhere in args and returns its value and remaining args.
func extractFlag(args []string, name string, defaultVal string) (string, []string, error) {
	val := defaultVal
	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--"+name || arg == "-"+name {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s flag requires a value", arg)
			}
			val = args[i+1]
			i++
			continue
		}
		remaining = append(remaining, arg)
	}
	return val, remaining, nil
}
