// Package config loads the broker's tunable parameters from CLI flags.
package config

import (
	"flag"
	"fmt"
	"io"
)

// Config lists the tunable parameters for the broker process.
type Config struct {
	Host        string
	Port        int
	LogLevel    string
	MetricsAddr string
}

const (
	defaultHost        = "0.0.0.0"
	defaultPort        = 4222
	defaultLogLevel    = "info"
	defaultMetricsAddr = ":9222"
)

// Parse derives configuration from args (typically os.Args[1:]),
// writing usage text to usageOut when --help is requested. --help is
// returned as flag.ErrHelp so the caller can distinguish "printed
// usage" from a real failure; other flag errors are returned as is.
func Parse(args []string, usageOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("broker", flag.ContinueOnError)
	fs.SetOutput(usageOut)

	cfg := Config{}
	fs.StringVar(&cfg.Host, "host", defaultHost, "bind host; 0.0.0.0 binds all interfaces")
	fs.IntVar(&cfg.Port, "port", defaultPort, "TCP port to listen on")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "one of debug, info, warn, error")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", defaultMetricsAddr, "bind address for the Prometheus /metrics endpoint")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}

	return cfg, nil
}
