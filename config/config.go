// SPDX-FileCopyrightText: Copyright (C) 2024 The Whisper Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the whisper engine configuration.  The engine
// itself never reads ambient state; everything is carried in an explicit
// Config value loaded and saved at the boundary.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/whisperlab/whisper/policy"
	"github.com/whisperlab/whisper/replay"
)

const (
	defaultLogLevel      = "NOTICE"
	defaultDataDir       = "whisper"
	defaultRetentionDays = 30
	defaultMaxEntries    = replay.DefaultMaxEntries
	defaultGCInterval    = 60 * time.Minute
)

// Policy holds the four send time policy flags.
type Policy struct {
	// ContactRequiredToSend forbids raw key sends.
	ContactRequiredToSend bool

	// RequireSignatureForVerified forbids unsigned sends to verified
	// contacts.
	RequireSignatureForVerified bool

	// AutoArchiveOnRotation archives the previous identity on rotation.
	AutoArchiveOnRotation bool

	// BiometricGatedSigning gates signing on user presence.
	BiometricGatedSigning bool

	// RequireSignature is the legacy name of
	// RequireSignatureForVerified.  It is migrated on load and dropped
	// on save.
	RequireSignature *bool `toml:",omitempty"`
}

// migrate applies the one time legacy flag translation.
func (pCfg *Policy) migrate() {
	if pCfg.RequireSignature != nil {
		pCfg.RequireSignatureForVerified = *pCfg.RequireSignature
		pCfg.RequireSignature = nil
	}
}

// Engine returns the policy configuration consumed by the policy engine.
func (pCfg *Policy) Engine() policy.Config {
	return policy.Config{
		ContactRequiredToSend:       pCfg.ContactRequiredToSend,
		RequireSignatureForVerified: pCfg.RequireSignatureForVerified,
		AutoArchiveOnRotation:       pCfg.AutoArchiveOnRotation,
		BiometricGatedSigning:       pCfg.BiometricGatedSigning,
	}
}

// Replay configures the replay protection store.
type Replay struct {
	// RetentionDays is how long committed records are kept.
	RetentionDays int

	// MaxEntries caps stored records.
	MaxEntries int

	// GCIntervalMinutes is the cleanup worker period.
	GCIntervalMinutes int
}

func (rCfg *Replay) applyDefaults() {
	if rCfg.RetentionDays <= 0 {
		rCfg.RetentionDays = defaultRetentionDays
	}
	if rCfg.MaxEntries <= 0 {
		rCfg.MaxEntries = defaultMaxEntries
	}
	if rCfg.GCIntervalMinutes <= 0 {
		rCfg.GCIntervalMinutes = int(defaultGCInterval / time.Minute)
	}
}

func (rCfg *Replay) validate() error {
	if rCfg.RetentionDays*24 < int(replay.FreshnessWindow/time.Hour) {
		return fmt.Errorf("config: Replay: RetentionDays must exceed the freshness window")
	}
	return nil
}

// Guard returns the replay guard configuration.
func (rCfg *Replay) Guard() *replay.Config {
	return &replay.Config{
		Retention:  time.Duration(rCfg.RetentionDays) * 24 * time.Hour,
		MaxEntries: rCfg.MaxEntries,
		GCInterval: time.Duration(rCfg.GCIntervalMinutes) * time.Minute,
	}
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Config is the top level whisper configuration.
type Config struct {
	// DataDir is the directory holding the record and replay databases.
	DataDir string

	Policy  *Policy
	Replay  *Replay
	Logging *Logging
}

// FixupAndValidate applies defaults, runs the legacy migration and
// validates the configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfg.DataDir = filepath.Join(home, "."+defaultDataDir)
	}
	if cfg.Policy == nil {
		cfg.Policy = new(Policy)
	}
	cfg.Policy.migrate()
	if cfg.Replay == nil {
		cfg.Replay = new(Replay)
	}
	cfg.Replay.applyDefaults()
	if err := cfg.Replay.validate(); err != nil {
		return err
	}
	if cfg.Logging == nil {
		cfg.Logging = new(Logging)
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Store writes a config to fileName on disk.  The legacy policy key is
// never written back.
func Store(cfg *Config, fileName string) error {
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
