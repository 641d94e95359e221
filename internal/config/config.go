package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Ports    PortsConfig    `yaml:"ports"`
	Games    GamesConfig    `yaml:"games"`
	Events   EventsConfig   `yaml:"events"`
}

// ServerConfig holds the lobby listener and HTTP settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"ARCADE_LISTEN_ADDR"`
	LobbyPort  int    `yaml:"lobby_port" env:"ARCADE_LOBBY_PORT"`
	HTTPPort   int    `yaml:"http_port" env:"ARCADE_HTTP_PORT"`
	// PublicHost is handed to clients as the address of launched matches
	PublicHost string `yaml:"public_host" env:"ARCADE_PUBLIC_HOST"`
	// IdleTimeout drops lobby connections that send nothing, not even a
	// HEARTBEAT, for this long. Negative disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"ARCADE_IDLE_TIMEOUT"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path" env:"ARCADE_DB_PATH"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"ARCADE_JWT_SECRET"`
	TokenDuration time.Duration `yaml:"token_duration" env:"ARCADE_TOKEN_DURATION"`
}

// PortsConfig is the inclusive range handed out to match processes
type PortsConfig struct {
	First int  `yaml:"first" env:"ARCADE_PORTS_FIRST"`
	Last  int  `yaml:"last" env:"ARCADE_PORTS_LAST"`
	Probe bool `yaml:"probe" env:"ARCADE_PORTS_PROBE"`
}

// GamesConfig describes where game server entry points live and how they run
type GamesConfig struct {
	Dir          string        `yaml:"dir" env:"ARCADE_GAMES_DIR"`
	Interpreter  string        `yaml:"interpreter" env:"ARCADE_GAMES_INTERPRETER"`
	Entrypoint   string        `yaml:"entrypoint" env:"ARCADE_GAMES_ENTRYPOINT"`
	StartupGrace time.Duration `yaml:"startup_grace" env:"ARCADE_GAMES_STARTUP_GRACE"`
	StopTimeout  time.Duration `yaml:"stop_timeout" env:"ARCADE_GAMES_STOP_TIMEOUT"`
}

// EventsConfig controls mirroring of room events onto NATS.
// An empty NATSURL with Embedded false disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" env:"ARCADE_NATS_URL"`
	Embedded      bool   `yaml:"embedded" env:"ARCADE_NATS_EMBEDDED"`
	EmbeddedHost  string `yaml:"embedded_host" env:"ARCADE_NATS_EMBEDDED_HOST"`
	EmbeddedPort  int    `yaml:"embedded_port" env:"ARCADE_NATS_EMBEDDED_PORT"`
	SubjectPrefix string `yaml:"subject_prefix" env:"ARCADE_NATS_SUBJECT_PREFIX"`
}

// Enabled reports whether room events should be published
func (e EventsConfig) Enabled() bool {
	return e.NATSURL != "" || e.Embedded
}

// Load reads configuration from a YAML file, applies ARCADE_* environment
// overrides and fills in defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "0.0.0.0"
	}
	if cfg.Server.LobbyPort == 0 {
		cfg.Server.LobbyPort = 8888
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.PublicHost == "" {
		cfg.Server.PublicHost = "127.0.0.1"
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 5 * time.Minute
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/arcade/arcade.db"
	}

	// Auth defaults
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	if cfg.Ports.First == 0 && cfg.Ports.Last == 0 {
		cfg.Ports.First = 9000
		cfg.Ports.Last = 9099
	}

	if cfg.Games.Dir == "" {
		cfg.Games.Dir = "/var/lib/arcade/games"
	}
	if cfg.Games.Entrypoint == "" {
		cfg.Games.Entrypoint = "game_server.py"
	}
	if cfg.Games.StartupGrace == 0 {
		cfg.Games.StartupGrace = 500 * time.Millisecond
	}
	if cfg.Games.StopTimeout == 0 {
		cfg.Games.StopTimeout = 5 * time.Second
	}

	if cfg.Events.EmbeddedHost == "" {
		cfg.Events.EmbeddedHost = "127.0.0.1"
	}
	if cfg.Events.EmbeddedPort == 0 {
		cfg.Events.EmbeddedPort = 4222
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "arcade.rooms"
	}
}

// Validate rejects configurations the coordinator cannot run with
func (cfg *Config) Validate() error {
	if cfg.Ports.First < 1 || cfg.Ports.Last > 65535 || cfg.Ports.First > cfg.Ports.Last {
		return fmt.Errorf("invalid match port range %d-%d", cfg.Ports.First, cfg.Ports.Last)
	}
	if p := cfg.Server.LobbyPort; p >= cfg.Ports.First && p <= cfg.Ports.Last {
		return fmt.Errorf("lobby port %d overlaps match port range %d-%d", p, cfg.Ports.First, cfg.Ports.Last)
	}
	if p := cfg.Server.HTTPPort; p >= cfg.Ports.First && p <= cfg.Ports.Last {
		return fmt.Errorf("http port %d overlaps match port range %d-%d", p, cfg.Ports.First, cfg.Ports.Last)
	}
	return nil
}
