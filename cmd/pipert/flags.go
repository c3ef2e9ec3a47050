package main

import (
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Elon-Abulafia/PipeRT/config"
)

// cliFlags are shared by every command
type cliFlags struct {
	ConfigPaths []string
	LogLevel    string
	LogFormat   string
}

func (f *cliFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&f.ConfigPaths, "config", "c",
		splitList(getEnv(config.EnvPrefix+"_CONFIG", "pipert.yaml")),
		"Configuration file; repeat to layer files, later ones win (env: PIPERT_CONFIG)")
	fs.StringVar(&f.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config and PIPERT_LOG_LEVEL)")
	fs.StringVar(&f.LogFormat, "log-format", "",
		"Log format: json, text (overrides config and PIPERT_LOG_FORMAT)")
}

// load reads the configuration layers and applies flag overrides
func (f *cliFlags) load() (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range f.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFormat != "" {
		cfg.Log.Format = f.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
