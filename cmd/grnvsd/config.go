package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/grnvsctl/internal/server"
)

// grnvsd config.toml key mapping to the service runtime settings.
type fileConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	MetricsAddr    string `toml:"metrics_addr"`
	ConnectTimeout string `toml:"connect_timeout"`
	IOTimeout      string `toml:"io_timeout"`
	RecvChunk      int    `toml:"recv_chunk"`
}

// loadServerConfig overlays the TOML file at path onto the defaults. An
// empty path runs on pure defaults.
func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load grnvsd config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if err := overlayDuration(meta, "connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout); err != nil {
		return server.Config{}, fmt.Errorf("load grnvsd config: %w", err)
	}
	if err := overlayDuration(meta, "io_timeout", raw.IOTimeout, &cfg.IOTimeout); err != nil {
		return server.Config{}, fmt.Errorf("load grnvsd config: %w", err)
	}
	if meta.IsDefined("recv_chunk") {
		cfg.RecvChunk = raw.RecvChunk
	}

	return cfg, nil
}

// overlayDuration applies one duration key when the file defines it.
// Durations are TOML strings in Go syntax ("500ms", "5s").
func overlayDuration(meta toml.MetaData, key, value string, dst *time.Duration) error {
	if !meta.IsDefined(key) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
