package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Switch   SwitchConfig   `mapstructure:"switch" yaml:"switch"`
	Listener ListenerConfig `mapstructure:"listener" yaml:"listener"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`

	// Internal field to track inheritance information for info command
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type EngineConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"` // "malgo", "virtual", "auto"
	SampleRate int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int           `mapstructure:"channels" yaml:"channels"`
	PeriodMS   int           `mapstructure:"period_ms" yaml:"period_ms"`
	Drivers    []string      `mapstructure:"drivers" yaml:"drivers,omitempty"` // miniaudio backends in priority order
	Virtual    VirtualConfig `mapstructure:"virtual" yaml:"virtual,omitempty"`
}

type VirtualConfig struct {
	Playout   []DeviceDefinition `mapstructure:"playout" yaml:"playout,omitempty"`
	Recording []DeviceDefinition `mapstructure:"recording" yaml:"recording,omitempty"`
	Active    []string           `mapstructure:"active" yaml:"active,omitempty"`
}

type DeviceDefinition struct {
	Name string `mapstructure:"name" yaml:"name"`
	ID   string `mapstructure:"id" yaml:"id"`
}

// SwitchConfig holds the settle delays. A nil value is unset and inherits;
// an explicit 0 disables the delay.
type SwitchConfig struct {
	RequestSettle      *time.Duration `mapstructure:"request_settle" yaml:"request_settle,omitempty"`
	NotificationSettle *time.Duration `mapstructure:"notification_settle" yaml:"notification_settle,omitempty"`
	IndexSettle        *time.Duration `mapstructure:"index_settle" yaml:"index_settle,omitempty"`
	DefaultSettle      *time.Duration `mapstructure:"default_settle" yaml:"default_settle,omitempty"`
}

type ListenerConfig struct {
	Enabled        *bool         `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Sources        []string      `mapstructure:"sources" yaml:"sources"` // "pactl", "hotplug"
	Pactl          string        `mapstructure:"pactl" yaml:"pactl"`
	HotplugDir     string        `mapstructure:"hotplug_dir" yaml:"hotplug_dir"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

type ServerConfig struct {
	Port    string `mapstructure:"port" yaml:"port"`
	Metrics *bool  `mapstructure:"metrics" yaml:"metrics,omitempty"`
}

type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	File      string `mapstructure:"file" yaml:"file"`
	MaxSizeKB int    `mapstructure:"max_size_kb" yaml:"max_size_kb"`
	MaxRolls  int    `mapstructure:"max_rolls" yaml:"max_rolls"`
}

// ListenerEnabled reports whether OS notifications should drive switches.
func (c *Config) ListenerEnabled() bool {
	return c.Listener.Enabled == nil || *c.Listener.Enabled
}

// SettleDelays returns the request, notification, index and default-activation
// settle delays. Unset delays are zero.
func (c *Config) SettleDelays() (request, notification, index, activate time.Duration) {
	return durationValue(c.Switch.RequestSettle), durationValue(c.Switch.NotificationSettle),
		durationValue(c.Switch.IndexSettle), durationValue(c.Switch.DefaultSettle)
}

func durationValue(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

// MetricsEnabled reports whether /metrics should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Server.Metrics == nil || *c.Server.Metrics
}

var (
	knownBackends = []string{"auto", "malgo", "virtual"}
	knownDrivers  = []string{"pulseaudio", "alsa", "jack", "wasapi", "dsound", "coreaudio", "null"}
	knownSources  = []string{"pactl", "hotplug"}
	knownLevels   = []string{"debug", "info", "warn", "error"}

	maxSettle = 10 * time.Second
)

// DefaultConfig returns the built-in configuration used when no file exists.
func DefaultConfig() *Config {
	enabled := true
	return &Config{
		Engine: EngineConfig{
			Backend:    "auto",
			SampleRate: 48000,
			Channels:   2,
			PeriodMS:   10,
		},
		Switch: SwitchConfig{
			RequestSettle:      durationPtr(500 * time.Millisecond),
			NotificationSettle: durationPtr(380 * time.Millisecond),
			IndexSettle:        durationPtr(500 * time.Millisecond),
			DefaultSettle:      durationPtr(500 * time.Millisecond),
		},
		Listener: ListenerConfig{
			Enabled:        &enabled,
			Sources:        []string{"pactl", "hotplug"},
			Pactl:          "pactl",
			HotplugDir:     "/dev/snd",
			CommandTimeout: 2 * time.Second,
		},
		Server: ServerConfig{
			Port:    "8080",
			Metrics: &enabled,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeKB: 1024,
			MaxRolls:  10,
		},
		Inheritance: map[string]string{},
	}
}

// DefaultConfigPath returns $HOME/.config/devswitch.yaml.
func DefaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/devswitch.yaml")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		if configName != "default" || len(rootConfig.Configs) > 0 {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		selectedProfile = &Config{}
	}

	// Built-in defaults, then the "default" profile, then the selection
	selectedConfig := DefaultConfig()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			selectedConfig = mergeConfigs(selectedConfig, defaultProfile)
			// Values from the default profile count as inherited for the selection
			for k := range selectedConfig.Inheritance {
				selectedConfig.Inheritance[k] = "inherited"
			}
		}
	}
	selectedConfig = mergeConfigs(selectedConfig, selectedProfile)

	selectedConfig.Log.File = expandPath(selectedConfig.Log.File)

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	configs := v.GetStringMap("configs")
	if _, ok := configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ListProfiles returns the profile names defined in the config file, sorted.
func ListProfiles(configFile string) ([]string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model: every
// value set in the profile wins, everything else falls back to base.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: map[string]string{}}
	if base != nil {
		*result = *base
		result.Inheritance = map[string]string{}
		for k, v := range base.Inheritance {
			result.Inheritance[k] = v
		}
	}
	if profile == nil {
		return result
	}

	set := func(field string) {
		result.Inheritance[field] = "profile-specific"
	}

	// Engine
	if profile.Engine.Backend != "" {
		result.Engine.Backend = profile.Engine.Backend
		set("engine.backend")
	}
	if profile.Engine.SampleRate != 0 {
		result.Engine.SampleRate = profile.Engine.SampleRate
		set("engine.sample_rate")
	}
	if profile.Engine.Channels != 0 {
		result.Engine.Channels = profile.Engine.Channels
		set("engine.channels")
	}
	if profile.Engine.PeriodMS != 0 {
		result.Engine.PeriodMS = profile.Engine.PeriodMS
		set("engine.period_ms")
	}
	if len(profile.Engine.Drivers) > 0 {
		result.Engine.Drivers = profile.Engine.Drivers
		set("engine.drivers")
	}
	if len(profile.Engine.Virtual.Playout) > 0 {
		result.Engine.Virtual.Playout = profile.Engine.Virtual.Playout
		set("engine.virtual.playout")
	}
	if len(profile.Engine.Virtual.Recording) > 0 {
		result.Engine.Virtual.Recording = profile.Engine.Virtual.Recording
		set("engine.virtual.recording")
	}
	if len(profile.Engine.Virtual.Active) > 0 {
		result.Engine.Virtual.Active = profile.Engine.Virtual.Active
		set("engine.virtual.active")
	}

	// Switch
	settles := []struct {
		field string
		dst   **time.Duration
		src   *time.Duration
	}{
		{"switch.request_settle", &result.Switch.RequestSettle, profile.Switch.RequestSettle},
		{"switch.notification_settle", &result.Switch.NotificationSettle, profile.Switch.NotificationSettle},
		{"switch.index_settle", &result.Switch.IndexSettle, profile.Switch.IndexSettle},
		{"switch.default_settle", &result.Switch.DefaultSettle, profile.Switch.DefaultSettle},
	}
	for _, st := range settles {
		if st.src != nil {
			*st.dst = durationPtr(*st.src)
			set(st.field)
		}
	}

	// Listener
	if profile.Listener.Enabled != nil {
		enabled := *profile.Listener.Enabled
		result.Listener.Enabled = &enabled
		set("listener.enabled")
	}
	if len(profile.Listener.Sources) > 0 {
		result.Listener.Sources = profile.Listener.Sources
		set("listener.sources")
	}
	if profile.Listener.Pactl != "" {
		result.Listener.Pactl = profile.Listener.Pactl
		set("listener.pactl")
	}
	if profile.Listener.HotplugDir != "" {
		result.Listener.HotplugDir = profile.Listener.HotplugDir
		set("listener.hotplug_dir")
	}
	if profile.Listener.CommandTimeout != 0 {
		result.Listener.CommandTimeout = profile.Listener.CommandTimeout
		set("listener.command_timeout")
	}

	// Server
	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
		set("server.port")
	}
	if profile.Server.Metrics != nil {
		metrics := *profile.Server.Metrics
		result.Server.Metrics = &metrics
		set("server.metrics")
	}

	// Log
	if profile.Log.Level != "" {
		result.Log.Level = profile.Log.Level
		set("log.level")
	}
	if profile.Log.File != "" {
		result.Log.File = profile.Log.File
		set("log.file")
	}
	if profile.Log.MaxSizeKB != 0 {
		result.Log.MaxSizeKB = profile.Log.MaxSizeKB
		set("log.max_size_kb")
	}
	if profile.Log.MaxRolls != 0 {
		result.Log.MaxRolls = profile.Log.MaxRolls
		set("log.max_rolls")
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("DEVSWITCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' is not defined in configs", rootConfig.ActiveConfig)
		}
	}

	// Every profile must be valid on its own, zero values meaning "inherit"
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if err := validatePartial(profile, fmt.Sprintf("configs.%s", name)); err != nil {
			return nil, err
		}
	}

	return &rootConfig, nil
}

// Validate checks a fully resolved configuration.
func Validate(c *Config) error {
	if err := validatePartial(c, "config"); err != nil {
		return err
	}
	if c.Engine.SampleRate == 0 {
		return fmt.Errorf("config.engine: 'sample_rate' is required")
	}
	if c.Engine.Channels == 0 {
		return fmt.Errorf("config.engine: 'channels' is required")
	}
	if c.Engine.PeriodMS == 0 {
		return fmt.Errorf("config.engine: 'period_ms' is required")
	}
	if c.ListenerEnabled() && len(c.Listener.Sources) == 0 {
		return fmt.Errorf("config.listener: 'sources' cannot be empty when the listener is enabled")
	}
	return nil
}

// validatePartial checks every value that is set. Unset values are allowed
// because profiles inherit them.
func validatePartial(c *Config, prefix string) error {
	e := c.Engine
	if e.Backend != "" && !contains(knownBackends, strings.ToLower(e.Backend)) {
		return fmt.Errorf("%s.engine: 'backend' must be one of %v, got: %s", prefix, knownBackends, e.Backend)
	}
	if e.SampleRate < 0 || e.SampleRate > 384000 {
		return fmt.Errorf("%s.engine: 'sample_rate' must be between 1 and 384000, got: %d", prefix, e.SampleRate)
	}
	if e.Channels < 0 || e.Channels > 8 {
		return fmt.Errorf("%s.engine: 'channels' must be between 1 and 8, got: %d", prefix, e.Channels)
	}
	if e.PeriodMS < 0 {
		return fmt.Errorf("%s.engine: 'period_ms' must be > 0, got: %d", prefix, e.PeriodMS)
	}
	for i, d := range e.Drivers {
		if !contains(knownDrivers, strings.ToLower(d)) {
			return fmt.Errorf("%s.engine.drivers[%d]: must be one of %v, got: %s", prefix, i, knownDrivers, d)
		}
	}
	if err := validateDeviceDefinitions(e.Virtual.Playout, prefix+".engine.virtual.playout"); err != nil {
		return err
	}
	if err := validateDeviceDefinitions(e.Virtual.Recording, prefix+".engine.virtual.recording"); err != nil {
		return err
	}
	for i, dir := range e.Virtual.Active {
		if dir != "playout" && dir != "recording" {
			return fmt.Errorf("%s.engine.virtual.active[%d]: must be 'playout' or 'recording', got: %s", prefix, i, dir)
		}
	}

	settles := map[string]*time.Duration{
		"request_settle":      c.Switch.RequestSettle,
		"notification_settle": c.Switch.NotificationSettle,
		"index_settle":        c.Switch.IndexSettle,
		"default_settle":      c.Switch.DefaultSettle,
	}
	for name, d := range settles {
		if d != nil && (*d < 0 || *d > maxSettle) {
			return fmt.Errorf("%s.switch: '%s' must be between 0 and %s, got: %s", prefix, name, maxSettle, *d)
		}
	}

	for i, src := range c.Listener.Sources {
		if !contains(knownSources, src) {
			return fmt.Errorf("%s.listener.sources[%d]: must be one of %v, got: %s", prefix, i, knownSources, src)
		}
	}
	if c.Listener.CommandTimeout < 0 {
		return fmt.Errorf("%s.listener: 'command_timeout' must be > 0, got: %s", prefix, c.Listener.CommandTimeout)
	}

	if c.Server.Port != "" {
		port, err := strconv.Atoi(c.Server.Port)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%s.server: 'port' must be a number between 1 and 65535, got: %s", prefix, c.Server.Port)
		}
	}

	if c.Log.Level != "" && !contains(knownLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("%s.log: 'level' must be one of %v, got: %s", prefix, knownLevels, c.Log.Level)
	}
	if c.Log.MaxSizeKB < 0 || c.Log.MaxRolls < 0 {
		return fmt.Errorf("%s.log: 'max_size_kb' and 'max_rolls' must be >= 0", prefix)
	}

	return nil
}

// validateDeviceDefinitions checks virtual device ids are present and unique
func validateDeviceDefinitions(defs []DeviceDefinition, prefix string) error {
	seenIDs := make(map[string]bool)
	for i, def := range defs {
		if def.ID == "" {
			return fmt.Errorf("%s[%d]: 'id' is required", prefix, i)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s[%d]: duplicate ID '%s'", prefix, i, def.ID)
		}
		seenIDs[def.ID] = true
		if def.Name == "" {
			return fmt.Errorf("%s[%d]: 'name' is required", prefix, i)
		}
	}
	return nil
}
