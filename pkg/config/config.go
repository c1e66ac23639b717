package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file, env nor flags provide a value.
const (
	DefaultRecallWindow = 48 * time.Hour
	DefaultEditWindow   = 15 * time.Minute
	DefaultMinInterval  = 500 * time.Millisecond

	defaultAddress = "127.0.0.1"
	defaultPort    = 8777
	defaultDBPath  = "./chatcore-data"
)

// EffectiveConfigResult is the merged configuration handed to the app,
// plus bookkeeping about where values came from.
type EffectiveConfigResult struct {
	Config  Config
	DBPath  string
	Sources []string
}

// ParseCommandFlags centralizes flag parsing for the daemon. It returns
// the raw flag values plus a set of flags the user explicitly set, so
// callers can let flags win over file/env.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	a := flag.String("addr", "", "listen address (host:port) for the local UI API")
	d := flag.String("db", "", "path to the device-local database")
	c := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *a, *d, *c, set
}

// ResolveConfigPath picks the config file path: explicit flag wins, then
// CHATCORE_CONFIG, then ./chatcore.yaml if it exists.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := os.Getenv("CHATCORE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("chatcore.yaml"); err == nil {
		return "chatcore.yaml"
	}
	return ""
}

// LoadEffective loads the YAML file (when present), applies environment
// overrides and fills defaults. Env always wins over file; flag handling
// is left to the caller.
func LoadEffective(path string) (EffectiveConfigResult, error) {
	var eff EffectiveConfigResult
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return eff, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &eff.Config); err != nil {
			return eff, fmt.Errorf("parse config %s: %w", path, err)
		}
		eff.Sources = append(eff.Sources, "file:"+path)
	}
	applyEnv(&eff)
	applyDefaults(&eff.Config)
	eff.DBPath = eff.Config.Storage.DBPath
	return eff, nil
}

func applyEnv(eff *EffectiveConfigResult) {
	cfg := &eff.Config
	envUsed := false
	if v := os.Getenv("CHATCORE_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = p
			}
		}
		envUsed = true
	}
	if v := os.Getenv("CHATCORE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
		envUsed = true
	}
	if v := os.Getenv("CHATCORE_USER_ID"); v != "" {
		cfg.Identity.UserID = v
		envUsed = true
	}
	if v := os.Getenv("CHATCORE_DEVICE_ID"); v != "" {
		cfg.Identity.DeviceID = v
		envUsed = true
	}
	if v := os.Getenv("CHATCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
		envUsed = true
	}
	if v := os.Getenv("CHATCORE_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
		envUsed = true
	}
	if v := os.Getenv("CHATCORE_STANDALONE"); v == "1" || v == "true" {
		cfg.Remote.Standalone = true
		envUsed = true
	}
	if envUsed {
		eff.Sources = append(eff.Sources, "env")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = defaultDBPath
	}
	if cfg.Policy.RecallWindow.Duration() == 0 {
		cfg.Policy.RecallWindow = Duration(DefaultRecallWindow)
	}
	if cfg.Policy.EditWindow.Duration() == 0 {
		cfg.Policy.EditWindow = Duration(DefaultEditWindow)
	}
	if cfg.Coalescer.MinInterval.Duration() == 0 {
		cfg.Coalescer.MinInterval = Duration(DefaultMinInterval)
	}
	if cfg.Coalescer.QueueCapacity <= 0 {
		cfg.Coalescer.QueueCapacity = 16 * 1024
	}
	if cfg.Coalescer.Workers <= 0 {
		cfg.Coalescer.Workers = 4
	}
	if cfg.Remote.RPS <= 0 {
		cfg.Remote.RPS = 20
	}
	if cfg.Remote.Burst <= 0 {
		cfg.Remote.Burst = 40
	}
	if cfg.Remote.Timeout.Duration() == 0 {
		cfg.Remote.Timeout = Duration(10 * time.Second)
	}
	if cfg.Remote.PollInterval.Duration() == 0 {
		cfg.Remote.PollInterval = Duration(time.Second)
	}
	if cfg.Sweep.Cron == "" {
		cfg.Sweep.Cron = "0 3 * * *"
	}
	if cfg.Sweep.MaxAge.Duration() == 0 {
		cfg.Sweep.MaxAge = Duration(30 * 24 * time.Hour)
	}
}

// Addr returns the host:port the local API listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}
