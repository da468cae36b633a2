// Package config loads the campaign's balance and runtime settings from YAML
// and validates them against an embedded JSON schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/campaign/internal/economy"
)

//go:embed schema.json
var schemaJSON string

// Opponent tunes the rival campaign's random draw.
type Opponent struct {
	MinVotes int `yaml:"min_votes" json:"min_votes"`
	MaxVotes int `yaml:"max_votes" json:"max_votes"` // Exclusive
}

// Supporter is one purchasable supporter as written in the config file.
type Supporter struct {
	ID             string `yaml:"id" json:"id,omitempty"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description,omitempty"`
	Cost           int    `yaml:"cost" json:"cost"`
	VotesPerSecond int    `yaml:"votes_per_second" json:"votes_per_second"`
	MaxCount       int    `yaml:"max_count" json:"max_count"`
}

// Config is the full session and process configuration.
type Config struct {
	TotalVotes        int         `yaml:"total_votes" json:"total_votes"`
	ClickVotes        int         `yaml:"click_votes" json:"click_votes"`
	AccrualIntervalMs int         `yaml:"accrual_interval_ms" json:"accrual_interval_ms"`
	StepMs            int         `yaml:"step_ms" json:"step_ms"`
	Speed             float64     `yaml:"speed" json:"speed"`
	Seed              uint64      `yaml:"seed" json:"seed"`
	Opponent          Opponent    `yaml:"opponent" json:"opponent"`
	APIPort           int         `yaml:"api_port" json:"api_port"`
	Database          string      `yaml:"database" json:"database"`
	JournalDir        string      `yaml:"journal_dir" json:"journal_dir"`
	LogLevel          string      `yaml:"log_level" json:"log_level"`
	Supporters        []Supporter `yaml:"supporters" json:"supporters"`
}

// Default returns the stock campaign.
func Default() Config {
	return Config{
		TotalVotes:        1000,
		ClickVotes:        1,
		AccrualIntervalMs: 1000,
		StepMs:            50,
		Speed:             1,
		Opponent: Opponent{
			MinVotes: 7,
			MaxVotes: 15,
		},
		APIPort:    8080,
		Database:   "data/campaign.db",
		JournalDir: "data/journal",
		LogLevel:   "info",
		Supporters: []Supporter{
			{ID: "volunteer", Name: "Volunteer", Description: "Knocks on doors after work.", Cost: 10, VotesPerSecond: 1, MaxCount: 20},
			{ID: "canvasser", Name: "Canvasser", Description: "Works a neighbourhood full time.", Cost: 50, VotesPerSecond: 6, MaxCount: 10},
			{ID: "influencer", Name: "Influencer", Description: "Posts about the campaign to a loyal following.", Cost: 200, VotesPerSecond: 30, MaxCount: 5},
			{ID: "newspaper", Name: "Newspaper", Description: "Runs a favourable editorial every morning.", Cost: 800, VotesPerSecond: 150, MaxCount: 2},
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates the result. A
// supporters list in the YAML replaces the default list entirely.
// Unknown keys are rejected so a misspelt setting cannot fall back to
// its default unnoticed.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("campaign.yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config against the embedded schema and builds the
// supporter catalog to catch duplicate definitions.
func (c Config) Validate() error {
	schema, err := jsonschema.CompileString("campaign.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	// Round-trip through JSON so the validator sees plain JSON values.
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Catalog converts the supporter list into economy producer types.
func (c Config) Catalog() (*economy.Catalog, error) {
	types := make([]economy.ProducerType, 0, len(c.Supporters))
	for _, s := range c.Supporters {
		types = append(types, economy.ProducerType{
			ID:           s.ID,
			Name:         s.Name,
			Description:  s.Description,
			Cost:         s.Cost,
			YieldPerTick: s.VotesPerSecond,
			MaxOwned:     s.MaxCount,
		})
	}
	return economy.NewCatalog(types...)
}

// AccrualInterval is the period between supporter and opponent credits.
func (c Config) AccrualInterval() time.Duration {
	return time.Duration(c.AccrualIntervalMs) * time.Millisecond
}

// StepInterval is the simulated duration of one engine step.
func (c Config) StepInterval() time.Duration {
	return time.Duration(c.StepMs) * time.Millisecond
}

// SlogLevel maps log_level onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
