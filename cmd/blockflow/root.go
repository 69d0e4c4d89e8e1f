package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeyCachePath     = "cache_path"
	cfgKeyRemotePath    = "remote_path"
	cfgKeyInboxDir      = "inbox_dir"
	cfgKeyDebounceMs    = "debounce_ms"
	cfgKeyProbeSeconds  = "probe_interval_s"
	cfgKeyDashboardPort = "dashboard_port"
	cfgKeyLogFile       = "log_file"
)

// defaultConfigYAML is written to config.yaml on first run so the knobs are
// discoverable.
const defaultConfigYAML = `# blockflow configuration

# Local snapshot cache (SQLite).
cache_path: cache.db

# Remote block store (SQLite path or shared file). Empty = local-only.
remote_path: ""

# Inbox directory watched by 'blockflow serve'.
inbox_dir: inbox

# Debounce window for mutation-triggered syncs, in milliseconds.
debounce_ms: 500

# How often 'serve' probes remote reachability, in seconds.
probe_interval_s: 15

# Dashboard WebSocket port for 'serve'.
dashboard_port: 8080

# Rotating daemon log ('serve' only). Empty = stderr.
log_file: ""
`

// config holds resolved settings for all subcommands.
type config struct {
	dir           string
	cachePath     string
	remotePath    string
	inboxDir      string
	debounce      time.Duration
	probeInterval time.Duration
	dashboardPort int
	logFile       string
}

var (
	flagConfigDir string

	cfg config
)

var rootCmd = &cobra.Command{
	Use:   "blockflow",
	Short: "Blockflow is an offline-tolerant outline of blocks",
	Long: `Blockflow maintains an ordered outline of hierarchical blocks and keeps it
consistent between memory, a local snapshot cache and a remote store.

Edits always land locally first; the remote is updated incrementally with
debounced, diff-based syncs, and sync status is advisory rather than
blocking.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "",
		"configuration directory (default: $(CWD)/.blockflow)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads config.yaml from the config directory, creating the
// directory and a default file on first run. A missing config.yaml is not an
// error.
func loadConfig() error {
	dir := flagConfigDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = filepath.Join(cwd, ".blockflow")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := ensureDefaultConfigFile(dir); err != nil {
		return err
	}

	v := viper.New()
	v.SetDefault(cfgKeyCachePath, "cache.db")
	v.SetDefault(cfgKeyRemotePath, "")
	v.SetDefault(cfgKeyInboxDir, "inbox")
	v.SetDefault(cfgKeyDebounceMs, 500)
	v.SetDefault(cfgKeyProbeSeconds, 15)
	v.SetDefault(cfgKeyDashboardPort, 8080)
	v.SetDefault(cfgKeyLogFile, "")
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg = config{
		dir:           dir,
		cachePath:     resolvePath(dir, v.GetString(cfgKeyCachePath)),
		remotePath:    v.GetString(cfgKeyRemotePath),
		inboxDir:      resolvePath(dir, v.GetString(cfgKeyInboxDir)),
		debounce:      time.Duration(v.GetInt(cfgKeyDebounceMs)) * time.Millisecond,
		probeInterval: time.Duration(v.GetInt(cfgKeyProbeSeconds)) * time.Second,
		dashboardPort: v.GetInt(cfgKeyDashboardPort),
		logFile:       v.GetString(cfgKeyLogFile),
	}
	if cfg.remotePath != "" {
		cfg.remotePath = resolvePath(dir, cfg.remotePath)
	}
	if cfg.logFile != "" {
		cfg.logFile = resolvePath(dir, cfg.logFile)
	}

	return nil
}

// ensureDefaultConfigFile writes a commented default config.yaml when none
// exists yet.
func ensureDefaultConfigFile(dir string) error {
	path := filepath.Join(dir, "config.yaml")

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	return os.WriteFile(path, []byte(defaultConfigYAML), 0644)
}

// resolvePath anchors relative paths at the config directory.
func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
