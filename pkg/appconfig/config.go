// Package appconfig layers configuration in the usual order for a
// CLI-bootstrapped service: compiled-in defaults, overridden by an
// optional YAML file, overridden by CHUNKLINK_* environment variables,
// overridden by command-line flags. Everything downstream (transport.Config,
// the bind address) is a plain struct; this package is the only place that
// knows about files, env vars or flags.
package appconfig

import (
	"flag"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"chunklink/pkg/transport"
)

// File is the on-disk shape consumed from an optional YAML config file.
type File struct {
	BindAddr string `yaml:"bind_addr"`
	BindPort int    `yaml:"bind_port"`

	MaxTransmissionUnit      *int32 `yaml:"max_transmission_unit"`
	LinkOutgoingBandwidth    *int32 `yaml:"link_outgoing_bandwidth"`
	ReconnectTimeSecs        *int32 `yaml:"reconnect_time_secs"`
	NetworkTimeoutSecs       *int32 `yaml:"network_timeout_secs"`
	InitialNetworkTimeoutSecs *int32 `yaml:"initial_network_timeout_secs"`
	NetworkLossFactor        *int32 `yaml:"network_loss_factor"`
	UDPChunksPerSec          *int32 `yaml:"udp_chunks_per_sec"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Config is the fully-resolved configuration the demo server runs with.
type Config struct {
	BindAddr string
	BindPort int

	Transport transport.Config

	MetricsAddr string
}

// Load resolves a Config by layering defaults, an optional YAML file at
// path (ignored if it doesn't exist), CHUNKLINK_* environment variables,
// and finally the process's command-line flags. args should normally be
// os.Args[1:].
func Load(path string, args []string) (Config, error) {
	cfg := Config{
		BindAddr:    "",
		BindPort:    7777,
		Transport:   transport.DefaultConfig(),
		MetricsAddr: ":9090",
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var f File
			if err := yaml.Unmarshal(data, &f); err != nil {
				return Config{}, err
			}
			applyFile(&cfg, f)
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	fs := flag.NewFlagSet("chunklinkd", flag.ContinueOnError)
	bindAddr := fs.String("bind-addr", cfg.BindAddr, "address to bind (empty for wildcard)")
	bindPort := fs.Int("bind-port", cfg.BindPort, "UDP port to bind")
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "address to serve /metrics on")
	mtu := fs.Int("mtu", int(cfg.Transport.MaxTransmissionUnit), "max transmission unit")
	chunksPerSec := fs.Int("chunks-per-sec", int(cfg.Transport.UDPChunksPerSec), "chunk creation pacing, Hz")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.BindAddr = *bindAddr
	cfg.BindPort = *bindPort
	cfg.MetricsAddr = *metricsAddr
	cfg.Transport.MaxTransmissionUnit = int32(*mtu)
	cfg.Transport.UDPChunksPerSec = int32(*chunksPerSec)
	cfg.Transport = cfg.Transport.Normalize()

	return cfg, nil
}

func applyFile(cfg *Config, f File) {
	if f.BindAddr != "" {
		cfg.BindAddr = f.BindAddr
	}
	if f.BindPort != 0 {
		cfg.BindPort = f.BindPort
	}
	if f.MetricsAddr != "" {
		cfg.MetricsAddr = f.MetricsAddr
	}

	t := &cfg.Transport
	if f.MaxTransmissionUnit != nil {
		t.MaxTransmissionUnit = *f.MaxTransmissionUnit
	}
	if f.LinkOutgoingBandwidth != nil {
		t.LinkOutgoingBandwidth = *f.LinkOutgoingBandwidth
	}
	if f.ReconnectTimeSecs != nil {
		t.ReconnectTimeSecs = *f.ReconnectTimeSecs
	}
	if f.NetworkTimeoutSecs != nil {
		t.NetworkTimeoutSecs = *f.NetworkTimeoutSecs
	}
	if f.InitialNetworkTimeoutSecs != nil {
		t.InitialNetworkTimeoutSecs = *f.InitialNetworkTimeoutSecs
	}
	if f.NetworkLossFactor != nil {
		t.NetworkLossFactor = transport.LossFactor(*f.NetworkLossFactor)
	}
	if f.UDPChunksPerSec != nil {
		t.UDPChunksPerSec = *f.UDPChunksPerSec
	}
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("CHUNKLINK_BIND_ADDR"); ok {
		cfg.BindAddr = v
	}
	if v, ok := envInt("CHUNKLINK_BIND_PORT"); ok {
		cfg.BindPort = v
	}
	if v, ok := os.LookupEnv("CHUNKLINK_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}

	t := &cfg.Transport
	if v, ok := envInt32("CHUNKLINK_MTU"); ok {
		t.MaxTransmissionUnit = v
	}
	if v, ok := envInt32("CHUNKLINK_LINK_OUTGOING_BANDWIDTH"); ok {
		t.LinkOutgoingBandwidth = v
	}
	if v, ok := envInt32("CHUNKLINK_RECONNECT_TIME_SECS"); ok {
		t.ReconnectTimeSecs = v
	}
	if v, ok := envInt32("CHUNKLINK_NETWORK_TIMEOUT_SECS"); ok {
		t.NetworkTimeoutSecs = v
	}
	if v, ok := envInt32("CHUNKLINK_INITIAL_NETWORK_TIMEOUT_SECS"); ok {
		t.InitialNetworkTimeoutSecs = v
	}
	if v, ok := envInt32("CHUNKLINK_NETWORK_LOSS_FACTOR"); ok {
		t.NetworkLossFactor = transport.LossFactor(v)
	}
	if v, ok := envInt32("CHUNKLINK_UDP_CHUNKS_PER_SEC"); ok {
		t.UDPChunksPerSec = v
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt32(key string) (int32, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return int32(n), true
}
