// Package config loads proofsync.toml.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/extsync"
	"github.com/corymhall/proofsync/leancmd"
	"github.com/corymhall/proofsync/schedule"
	"github.com/corymhall/proofsync/server"
	"github.com/corymhall/proofsync/session"
	"github.com/corymhall/proofsync/transport"
)

// DefaultFile is looked up in the working directory.
const DefaultFile = "proofsync.toml"

// Duration is a time.Duration written as a string such as "600ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
	Client   Client `toml:"client"`
	Server   Server `toml:"server"`
}

type Client struct {
	BridgeURL      string   `toml:"bridge_url"`
	PersistWindow  Duration `toml:"persist_window"`
	NotifyWindow   Duration `toml:"notify_window"`
	InfoWindow     Duration `toml:"info_window"`
	CompileWindow  Duration `toml:"compile_window"`
	AutoCompile    bool     `toml:"auto_compile"`
	RequestTimeout Duration `toml:"request_timeout"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	PollInterval   Duration `toml:"poll_interval"`
	Sync           bool     `toml:"sync"`
	OpenEditor     bool     `toml:"open_editor"`
}

type Server struct {
	Addr           string   `toml:"addr"`
	Root           string   `toml:"root"`
	Records        string   `toml:"records"`
	BlocksDir      string   `toml:"blocks_dir"`
	TempFile       string   `toml:"temp_file"`
	StaticDir      string   `toml:"static_dir"`
	LeanCommand    []string `toml:"lean_command"`
	StderrLog      string   `toml:"stderr_log"`
	CompileTimeout Duration `toml:"compile_timeout"`
	CacheTTL       Duration `toml:"cache_ttl"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Client: Client{
			BridgeURL:      "http://" + server.DefaultAddr,
			PersistWindow:  Duration{schedule.DefaultPersistWindow},
			NotifyWindow:   Duration{schedule.DefaultNotifyWindow},
			InfoWindow:     Duration{schedule.DefaultInfoWindow},
			CompileWindow:  Duration{schedule.DefaultCompileWindow},
			RequestTimeout: Duration{10 * time.Second},
			InitialBackoff: Duration{transport.DefaultInitialBackoff},
			MaxBackoff:     Duration{transport.DefaultMaxBackoff},
			PollInterval:   Duration{extsync.DefaultPollInterval},
			Sync:           true,
		},
		Server: Server{
			Addr:           server.DefaultAddr,
			Root:           ".",
			CompileTimeout: Duration{leancmd.DefaultTimeout},
			CacheTTL:       Duration{server.DefaultCacheTTL},
		},
	}
}

// Load reads path over the defaults. A missing file is not an error unless
// required is set.
func Load(ctx context.Context, path string, required bool) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		debug.Warning.Log(ctx, "unknown configuration key", slog.String("file", path), slog.String("key", key.String()))
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Client.MaxBackoff.Duration < c.Client.InitialBackoff.Duration {
		return fmt.Errorf("[client].max_backoff %s is below initial_backoff %s", c.Client.MaxBackoff, c.Client.InitialBackoff)
	}
	if c.Client.BridgeURL == "" {
		return errors.New("missing [client].bridge_url")
	}
	return nil
}

func (c Client) SessionOptions() session.Options {
	return session.Options{
		PersistWindow:  c.PersistWindow.Duration,
		NotifyWindow:   c.NotifyWindow.Duration,
		InfoWindow:     c.InfoWindow.Duration,
		CompileWindow:  c.CompileWindow.Duration,
		AutoCompile:    c.AutoCompile,
		RequestTimeout: c.RequestTimeout.Duration,
		PollInterval:   c.PollInterval.Duration,
		OpenEditor:     c.OpenEditor,
	}
}

func (c Client) TransportOptions() transport.Options {
	return transport.Options{
		InitialBackoff: c.InitialBackoff.Duration,
		MaxBackoff:     c.MaxBackoff.Duration,
	}
}

func (s Server) Options() server.Options {
	return server.Options{
		Addr:           s.Addr,
		Root:           s.Root,
		RecordsPath:    s.Records,
		BlocksDir:      s.BlocksDir,
		TempFile:       s.TempFile,
		StaticDir:      s.StaticDir,
		LeanCommand:    s.LeanCommand,
		StderrLog:      s.StderrLog,
		CompileTimeout: s.CompileTimeout.Duration,
		CacheTTL:       s.CacheTTL.Duration,
	}
}
