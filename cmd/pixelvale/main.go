// Command pixelvale runs the persistent village simulation server.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lowlandworks/pixelvale/internal/api"
	"github.com/lowlandworks/pixelvale/internal/config"
	"github.com/lowlandworks/pixelvale/internal/engine"
	"github.com/lowlandworks/pixelvale/internal/persistence"
)

var npcNames = []string{
	"Marisol", "Bram", "Odette", "Finnian", "Tamsin",
	"Caspian", "Wren", "Aldous", "Petra", "Silas",
}

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// ── Storage ───────────────────────────────────────────────────────
	var store persistence.Store
	switch cfg.Store.Driver {
	case "memory":
		store = persistence.NewMemStore()
		slog.Info("using in-memory store (state will not survive restarts)")
	default:
		if dir := filepath.Dir(cfg.Store.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				slog.Error("failed to create data directory", "dir", dir, "error", err)
				os.Exit(1)
			}
		}
		db, err := persistence.Open(cfg.Store.Path, persistence.RetryPolicy{
			Attempts: cfg.Store.Retries,
			Delay:    cfg.Store.RetryDelay,
		})
		if err != nil {
			slog.Error("failed to open database", "path", cfg.Store.Path, "error", err)
			os.Exit(1)
		}
		store = db
		slog.Info("database opened", "path", cfg.Store.Path)
	}
	defer store.Close()

	// ── World ─────────────────────────────────────────────────────────
	game := engine.NewGame(cfg, store)
	game.Activity = engine.SlogActivityLogger{}

	if err := game.Restore(); err != nil {
		slog.Error("failed to restore world state", "error", err)
		os.Exit(1)
	}

	joined := engine.SpawnNPCs(game, npcNames)
	st := game.Clock.Snapshot()
	slog.Info("world ready",
		"agents", game.World.Count(),
		"npcs_joined", joined,
		"trees", game.Trees.Count(),
		"buildings", len(game.Buildings.All()),
		"day", st.Day, "month", st.Month, "year", st.Year,
		"weather", st.Weather,
	)

	// ── Loop + API ────────────────────────────────────────────────────
	game.Bus.Start()
	loop := engine.NewLoop(game, nil)

	apiServer := &api.Server{
		Game:      game,
		Loop:      loop,
		Port:      cfg.API.Port,
		SharedKey: cfg.API.SharedKey,
		QueueSize: cfg.API.QueueSize,
	}
	if cfg.API.SharedKey == "" {
		slog.Warn("PIXELVALE_KEY not set, action endpoints are unauthenticated")
	}
	apiServer.Start()
	loop.Start()

	fmt.Printf("\nPixelvale is awake: %d residents on a %dx%d map.\n",
		game.World.Count(), cfg.World.Width, cfg.World.Height)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	fmt.Println("Running... (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	// ── Shutdown ──────────────────────────────────────────────────────
	loop.Stop()
	apiServer.Close()
	game.Bus.Close()

	if err := store.SaveAgents(game.World.Agents()); err != nil {
		slog.Error("final agent save failed", "error", err)
	}
	if err := store.Checkpoint(); err != nil {
		slog.Warn("checkpoint failed", "error", err)
	}

	fmt.Println("Simulation stopped. World state saved.")
}
