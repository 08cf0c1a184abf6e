// Package config loads simulation settings from a YAML file with
// environment overrides. A single Config is built at startup and passed
// by reference into every component.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the server. Zero values are replaced by
// defaults in Load, so a partial YAML file is fine.
type Config struct {
	World    WorldConfig    `yaml:"world"`
	Loop     LoopConfig     `yaml:"loop"`
	Social   SocialConfig   `yaml:"social"`
	Trees    TreeConfig     `yaml:"trees"`
	Building BuildingConfig `yaml:"building"`
	Clock    ClockConfig    `yaml:"clock"`
	Events   EventConfig    `yaml:"events"`
	Store    StoreConfig    `yaml:"store"`
	API      APIConfig      `yaml:"api"`
}

// WorldConfig controls map generation and the agent registry.
type WorldConfig struct {
	Width         int   `yaml:"width"`
	Height        int   `yaml:"height"`
	Seed          int64 `yaml:"seed"`
	MaxAgents     int   `yaml:"max_agents"`
	WanderRetries int   `yaml:"wander_retries"`
}

// LoopConfig controls the game loop cadences.
type LoopConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	DecayEveryTicks  int           `yaml:"decay_every_ticks"`
	SnapshotTicks    int           `yaml:"snapshot_every_ticks"`
	WanderInterval   time.Duration `yaml:"wander_interval"`
	BehaviorInterval time.Duration `yaml:"behavior_interval"`
	DecayRelInterval time.Duration `yaml:"relationship_decay_interval"`
	RegrowInterval   time.Duration `yaml:"regrow_interval"`
	WeatherInterval  time.Duration `yaml:"weather_interval"`
	CalendarInterval time.Duration `yaml:"calendar_interval"`
	SpawnerInterval  time.Duration `yaml:"spawner_interval"`
	MaintInterval    time.Duration `yaml:"maintenance_interval"`
	DigestInterval   time.Duration `yaml:"digest_interval"`
}

// SocialConfig controls conversations and relationships.
type SocialConfig struct {
	InviteTimeout    time.Duration `yaml:"invite_timeout"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	SilenceTimeout   time.Duration `yaml:"silence_timeout"`
	MaxMessages      int           `yaml:"max_messages"`
	LongConvoBonusAt int           `yaml:"long_conversation_bonus_at"`
	MessageCooldown  time.Duration `yaml:"message_cooldown"`
	DecayPerDay      int           `yaml:"decay_per_day"`
}

// TreeConfig controls the harvestable resource cycle.
type TreeConfig struct {
	ChopEnergyCost int           `yaml:"chop_energy_cost"`
	WoodMin        int           `yaml:"wood_min"`
	WoodMax        int           `yaml:"wood_max"`
	RegrowDuration time.Duration `yaml:"regrow_duration"`
	RainRegrowMult float64       `yaml:"rain_regrow_multiplier"`
	SpawnChance    float64       `yaml:"spawn_chance"`
	RainSpawnMult  float64       `yaml:"rain_spawn_multiplier"`
	MaxTrees       int           `yaml:"max_trees"`
}

// BuildingConfig controls construction.
type BuildingConfig struct {
	WoodRequired      int     `yaml:"wood_required"`
	StartContribution int     `yaml:"start_contribution"`
	MaxContribution   int     `yaml:"max_contribution"`
	EnergyCost        int     `yaml:"energy_cost"`
	MinSpacing        float64 `yaml:"min_spacing"`
}

// ClockConfig controls the accelerated calendar and weather.
type ClockConfig struct {
	TimeScale       float64       `yaml:"time_scale"`
	WeatherMin      time.Duration `yaml:"weather_min"`
	WeatherMax      time.Duration `yaml:"weather_max"`
	StormEscalation float64       `yaml:"storm_escalation"`
}

// EventConfig controls the event bus.
type EventConfig struct {
	RingSize      int           `yaml:"ring_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushAt       int           `yaml:"flush_at"`
	PruneAfter    time.Duration `yaml:"prune_after"`
}

// StoreConfig selects and tunes persistence.
type StoreConfig struct {
	Driver     string        `yaml:"driver"` // "sqlite" or "memory"
	Path       string        `yaml:"path"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// APIConfig controls the HTTP/WebSocket boundary.
type APIConfig struct {
	Port      int    `yaml:"port"`
	SharedKey string `yaml:"shared_key"`
	QueueSize int    `yaml:"stream_queue_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			Width:         80,
			Height:        60,
			Seed:          0,
			MaxAgents:     300,
			WanderRetries: 8,
		},
		Loop: LoopConfig{
			TickInterval:     200 * time.Millisecond,
			DecayEveryTicks:  25,
			SnapshotTicks:    50,
			WanderInterval:   10 * time.Second,
			BehaviorInterval: 15 * time.Second,
			DecayRelInterval: time.Hour,
			RegrowInterval:   30 * time.Second,
			WeatherInterval:  5 * time.Minute,
			CalendarInterval: time.Minute,
			SpawnerInterval:  2 * time.Minute,
			MaintInterval:    10 * time.Minute,
			DigestInterval:   30 * time.Minute,
		},
		Social: SocialConfig{
			InviteTimeout:    30 * time.Second,
			MaxDuration:      10 * time.Minute,
			SilenceTimeout:   2 * time.Minute,
			MaxMessages:      30,
			LongConvoBonusAt: 10,
			MessageCooldown:  time.Second,
			DecayPerDay:      2,
		},
		Trees: TreeConfig{
			ChopEnergyCost: 10,
			WoodMin:        1,
			WoodMax:        3,
			RegrowDuration: 5 * time.Minute,
			RainRegrowMult: 0.7,
			SpawnChance:    0.02,
			RainSpawnMult:  2.0,
			MaxTrees:       400,
		},
		Building: BuildingConfig{
			WoodRequired:      50,
			StartContribution: 5,
			MaxContribution:   5,
			EnergyCost:        5,
			MinSpacing:        5,
		},
		Clock: ClockConfig{
			TimeScale:       60, // 1 real minute = 1 game hour
			WeatherMin:      3 * time.Minute,
			WeatherMax:      10 * time.Minute,
			StormEscalation: 0.25,
		},
		Events: EventConfig{
			RingSize:      100,
			FlushInterval: 5 * time.Second,
			FlushAt:       50,
			PruneAfter:    7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			Path:       "data/pixelvale.db",
			Retries:    3,
			RetryDelay: 100 * time.Millisecond,
		},
		API: APIConfig{
			Port:      8080,
			QueueSize: 64,
		},
	}
}

// Load reads the YAML file at path (if non-empty), layers it over the
// defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.World.Width <= 0 || cfg.World.Height <= 0 {
		return nil, fmt.Errorf("invalid world size %dx%d", cfg.World.Width, cfg.World.Height)
	}
	if cfg.Trees.WoodMax < cfg.Trees.WoodMin {
		return nil, fmt.Errorf("wood_max %d below wood_min %d", cfg.Trees.WoodMax, cfg.Trees.WoodMin)
	}
	return cfg, nil
}

// applyEnv overrides the settings operators most often change at deploy time.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PIXELVALE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("PIXELVALE_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PIXELVALE_KEY"); v != "" {
		cfg.API.SharedKey = v
	}
	if v := os.Getenv("PIXELVALE_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.World.Seed = seed
		}
	}
}
