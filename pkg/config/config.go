// Package config holds the settings shared by the nitroshare commands.
// Values come from defaults, then NITROSHARE_* environment variables, then
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"tarun-kavipurapu/nitroshare/pkg/protocol"
	"tarun-kavipurapu/nitroshare/pkg/transfer"
)

const envPrefix = "NITROSHARE_"

const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

type Config struct {
	DeviceName      string
	ListenAddr      string
	Transport       string
	DownloadDir     string
	ChunkSize       int
	MaxManifestSize uint64
	ConnectTimeout  time.Duration
	// TransferTimeout cancels a transfer that has not finished in time.
	// Zero disables it.
	TransferTimeout time.Duration
	LogLevel        string
	LogFile         string
	Advertise       bool
	MetricsInterval time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "nitroshare"
	}
	return Config{
		DeviceName:      name,
		ListenAddr:      "0.0.0.0:8040",
		Transport:       TransportTCP,
		DownloadDir:     defaultDownloadDir(),
		ChunkSize:       transfer.DefaultChunkSize,
		MaxManifestSize: protocol.DefaultMaxFrameSize,
		ConnectTimeout:  10 * time.Second,
		LogLevel:        "info",
		Advertise:       true,
		MetricsInterval: 0,
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads", "nitroshare")
}

// Load returns the defaults overridden by the environment.
func Load() (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("DEVICE_NAME"); ok {
		c.DeviceName = v
	}
	if v, ok := get("LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := get("TRANSPORT"); ok {
		c.Transport = strings.ToLower(v)
	}
	if v, ok := get("DOWNLOAD_DIR"); ok {
		c.DownloadDir = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("LOG_FILE"); ok {
		c.LogFile = v
	}
	if v, ok := get("CHUNK_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCHUNK_SIZE: %w", envPrefix, err)
		}
		c.ChunkSize = n
	}
	if v, ok := get("MAX_MANIFEST_SIZE"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_MANIFEST_SIZE: %w", envPrefix, err)
		}
		c.MaxManifestSize = n
	}
	if v, ok := get("ADVERTISE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sADVERTISE: %w", envPrefix, err)
		}
		c.Advertise = b
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CONNECT_TIMEOUT", &c.ConnectTimeout},
		{"TRANSFER_TIMEOUT", &c.TransferTimeout},
		{"METRICS_INTERVAL", &c.MetricsInterval},
	}
	for _, d := range durations {
		v, ok := get(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// BindFlags registers a flag for every field, using the current values as
// defaults, so flags given on the command line win over the environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.DeviceName, "name", "n", c.DeviceName, "Device name shown to the other peer")
	fs.StringVarP(&c.ListenAddr, "addr", "a", c.ListenAddr, "Address to listen on")
	fs.StringVarP(&c.Transport, "transport", "t", c.Transport, "Transport to use: tcp or quic")
	fs.StringVarP(&c.DownloadDir, "dir", "d", c.DownloadDir, "Directory received files are written to")
	fs.IntVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "Largest write of file data in bytes")
	fs.Uint64Var(&c.MaxManifestSize, "max-manifest", c.MaxManifestSize, "Largest manifest accepted in bytes (1 to 1073741824)")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "How long to wait for a connection")
	fs.DurationVar(&c.TransferTimeout, "timeout", c.TransferTimeout, "Cancel transfers that take longer (0 disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Write logs to this file instead of stderr")
	fs.BoolVar(&c.Advertise, "advertise", c.Advertise, "Announce this receiver over mDNS")
	fs.DurationVar(&c.MetricsInterval, "metrics-interval", c.MetricsInterval, "Log runtime metrics at this interval (0 disables)")
}

func (c Config) Validate() error {
	var errs []string
	if c.Transport != TransportTCP && c.Transport != TransportQUIC {
		errs = append(errs, fmt.Sprintf("unknown transport %q", c.Transport))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, "chunk size must be positive")
	}
	if c.MaxManifestSize == 0 || c.MaxManifestSize > protocol.MaxFrameLimit {
		errs = append(errs, fmt.Sprintf("max manifest size must be between 1 and %d bytes", protocol.MaxFrameLimit))
	}
	if c.ListenAddr == "" {
		errs = append(errs, "listen address is empty")
	}
	if c.ConnectTimeout < 0 || c.TransferTimeout < 0 || c.MetricsInterval < 0 {
		errs = append(errs, "durations must not be negative")
	}
	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}

// TransferOptions returns the options for a transfer with the named peer.
func (c Config) TransferOptions(peerName string) transfer.Options {
	return transfer.Options{
		DeviceName:      peerName,
		LocalName:       c.DeviceName,
		ChunkSize:       c.ChunkSize,
		MaxManifestSize: c.MaxManifestSize,
	}
}
