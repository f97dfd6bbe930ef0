// Package config holds the hoarder's runtime settings, populated from
// parsed CLI flags (cmd/hoarder) rather than a JSON/SQLite-backed store.
package config

// Config holds the flag-derived settings the hoarder starts with: which
// dumps directory to use, which workers to run, and how to log.
type Config struct {
	Secrets   string `json:"secrets"`
	DumpDir   string `json:"dump_dir"`
	History   bool   `json:"history"`
	Structure bool   `json:"structure"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Default returns a Config with the hoarder's baseline flag defaults.
func Default() *Config {
	return &Config{
		Secrets:   "{}",
		DumpDir:   ".",
		History:   true,
		Structure: true,
		LogLevel:  "info",
		LogFormat: "console",
	}
}
