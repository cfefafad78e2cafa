package main

//	@title			Tally API
//	@version		0.1.0
//	@description	Counts items on a scale from settled weight steps.
//	@BasePath		/api/v1

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/HerbHall/tally/api/swagger"
	"github.com/HerbHall/tally/internal/config"
	"github.com/HerbHall/tally/internal/counter"
	"github.com/HerbHall/tally/internal/event"
	"github.com/HerbHall/tally/internal/mqtt"
	"github.com/HerbHall/tally/internal/registry"
	"github.com/HerbHall/tally/internal/server"
	"github.com/HerbHall/tally/internal/source"
	"github.com/HerbHall/tally/internal/store"
	"github.com/HerbHall/tally/internal/version"
	"github.com/HerbHall/tally/internal/webhook"
	"github.com/HerbHall/tally/internal/ws"
	"github.com/HerbHall/tally/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "replay":
			os.Exit(runReplay(os.Args[2:]))
		case "backup":
			os.Exit(runBackup(os.Args[2:]))
		case "restore":
			os.Exit(runRestore(os.Args[2:]))
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("tally starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open database
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "tally.db"
	}
	if err := ensureDir(dbPath); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", db.Path()),
	)

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register modules (compile-time composition).
	counterMod := counter.New()
	modules := []plugin.Plugin{counterMod, mqtt.New(), webhook.New()}
	for _, m := range modules {
		name := m.Info().Name
		if !cfg.ModuleEnabled(name) {
			logger.Info("plugin disabled by configuration", zap.String("name", name))
			continue
		}
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Module(name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	// Attach the scale before Start so the ingest loop picks it up.
	srcCfg := source.DefaultConfig()
	if err := viperCfg.UnmarshalKey("source", &srcCfg); err != nil {
		logger.Fatal("invalid source configuration", zap.Error(err))
	}
	src, err := source.Open(ctx, srcCfg,
		source.WithLogger(logger.Named("source")),
		source.WithMalformedHook(counterMod.MalformedHook),
	)
	if err != nil {
		// The API stays up; health reports degraded until restart.
		logger.Error("failed to open sample source",
			zap.String("kind", srcCfg.Kind),
			zap.String("address", srcCfg.Address),
			zap.Error(err),
		)
	} else {
		counterMod.SetSource(src)
		logger.Info("sample source opened",
			zap.String("component", "source"),
			zap.String("name", src.Name()),
		)
	}

	wsHandler, err := startModules(ctx, reg, counterMod, bus, logger)
	if err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}
	defer wsHandler.Close()

	var srvCfg server.Config
	if err := viperCfg.UnmarshalKey("server", &srvCfg); err != nil {
		logger.Fatal("invalid server configuration", zap.Error(err))
	}
	srv := server.New(srvCfg, reg, logger, db.Ping, wsHandler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("tally ready", zap.String("addr", srvCfg.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)
	if err := db.Checkpoint(shutdownCtx); err != nil {
		logger.Warn("wal checkpoint failed", zap.Error(err))
	}

	logger.Info("tally stopped")
}

// startModules subscribes the live stream before starting modules, so the
// stream sees the first events of the session.
func startModules(ctx context.Context, reg *registry.Registry, counterMod *counter.Module, bus plugin.EventBus, logger *zap.Logger) (*ws.Handler, error) {
	wsHandler := ws.NewHandler(counterMod, bus, logger.Named("ws"))
	if err := reg.StartAll(ctx); err != nil {
		wsHandler.Close()
		return nil, err
	}
	return wsHandler, nil
}

// ensureDir creates the parent directory of a database path.
func ensureDir(dbPath string) error {
	if dbPath == store.MemoryPath {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
