package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		InternalSecret string   `yaml:"internal_secret"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Game struct {
		Countdown          string `yaml:"countdown"`
		InterQuestionDelay string `yaml:"inter_question_delay"`
		PollInterval       string `yaml:"poll_interval"`
		SessionTTL         string `yaml:"session_ttl"`
		LobbyTTL           string `yaml:"lobby_ttl"`
		MinPlayersToStart  int    `yaml:"min_players_to_start"`
	} `yaml:"game"`
	Questions struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"questions"`
}

// Load reads YAML config from path. Environment variables referenced by the
// CLI (PORT, INTERNAL_SERVICE_SECRET) override the file where set.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if secret := os.Getenv("INTERNAL_SERVICE_SECRET"); secret != "" {
		cfg.Server.InternalSecret = secret
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
