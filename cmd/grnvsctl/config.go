package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/grnvsctl/internal/transfer"
)

// grnvsctl config.toml key mapping to the transfer settings.
type fileConfig struct {
	Port           int    `toml:"port"`
	ConnectTimeout string `toml:"connect_timeout"`
	AcceptTimeout  string `toml:"accept_timeout"`
	RecvTimeout    string `toml:"recv_timeout"`
	WriteTimeout   string `toml:"write_timeout"`
	RecvChunk      int    `toml:"recv_chunk"`
	Journal        string `toml:"journal"`
}

// clientConfig is everything the file controls: the transfer policy and the
// journal location.
type clientConfig struct {
	Transfer transfer.Config
	Journal  string
}

// loadClientConfig overlays the TOML file at path onto the defaults. An
// empty path means the default location, which may be absent; an explicitly
// named file must exist.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := clientConfig{
		Transfer: transfer.DefaultConfig(),
		Journal:  defaultJournalPath(),
	}

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return clientConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("port") {
		cfg.Transfer.Port = raw.Port
	}
	if err := overlayDuration(meta, "connect_timeout", raw.ConnectTimeout, &cfg.Transfer.ConnectTimeout); err != nil {
		return clientConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := overlayDuration(meta, "accept_timeout", raw.AcceptTimeout, &cfg.Transfer.AcceptTimeout); err != nil {
		return clientConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := overlayDuration(meta, "recv_timeout", raw.RecvTimeout, &cfg.Transfer.RecvTimeout); err != nil {
		return clientConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := overlayDuration(meta, "write_timeout", raw.WriteTimeout, &cfg.Transfer.WriteTimeout); err != nil {
		return clientConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if meta.IsDefined("recv_chunk") {
		cfg.Transfer.RecvChunk = raw.RecvChunk
	}
	if meta.IsDefined("journal") {
		cfg.Journal = strings.TrimSpace(raw.Journal)
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

const configTemplate = `# grnvsctl configuration. Every key is optional; absent keys keep their
# defaults. Durations use Go syntax ("500ms", "5s").

port = 1337
connect_timeout = "5s"
accept_timeout = "30s"
recv_timeout = "500ms"
write_timeout = "5s"
recv_chunk = 1024

# Where transfer receipts are stored. An empty value disables the journal.
# journal = "/var/lib/grnvsctl/journal.db"
`

func writeConfigTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}
