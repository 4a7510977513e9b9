// Package config loads the refbridge command's settings from a TOML file
// and command-line flags. Flags set explicitly win over the file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"github.com/feather-lang/refbridge/mem"
)

type Config struct {
	Heap HeapConfig `toml:"heap"`
	Log  LogConfig  `toml:"log"`
}

type HeapConfig struct {
	InitialPages uint32 `toml:"initial_pages"`
	MaxPages     uint32 `toml:"max_pages"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn or error
	Format string `toml:"format"` // text or json
}

// Default returns the settings used when neither a file nor flags say
// otherwise.
func Default() Config {
	return Config{
		Heap: HeapConfig{InitialPages: 1},
		Log:  LogConfig{Level: "warn", Format: "text"},
	}
}

// Load reads a TOML file over the defaults. Keys the file does not know
// are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks values the decoder cannot.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: want text or json", c.Log.Format)
	}
	if c.Heap.MaxPages > 0 && c.Heap.InitialPages > c.Heap.MaxPages {
		return fmt.Errorf("initial pages %d exceed max pages %d", c.Heap.InitialPages, c.Heap.MaxPages)
	}
	return nil
}

// BindFlags registers the flags that override the file.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a TOML config file")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
	fs.Uint32("initial-pages", d.Heap.InitialPages, "linear memory pages committed at start")
	fs.Uint32("max-pages", d.Heap.MaxPages, "cap on linear memory pages, 0 for no cap")
}

// Resolve loads the file named by --config, if any, and applies the flags
// that were set on the command line.
func Resolve(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()
	if path, _ := fs.GetString("config"); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}

	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "log-level":
			cfg.Log.Level = f.Value.String()
		case "log-format":
			cfg.Log.Format = f.Value.String()
		case "initial-pages":
			cfg.Heap.InitialPages, err = fs.GetUint32(f.Name)
		case "max-pages":
			cfg.Heap.MaxPages, err = fs.GetUint32(f.Name)
		}
	})
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Logger builds the logger described by the config, writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// MemConfig returns the heap settings with logger attached.
func (c Config) MemConfig(logger *slog.Logger) mem.Config {
	return mem.Config{
		InitialPages: c.Heap.InitialPages,
		MaxPages:     c.Heap.MaxPages,
		Logger:       logger,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}
