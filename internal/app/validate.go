package app

import (
	"fmt"
	"os"

	"chatcore/pkg/config"
)

// validateConfig fails fast on configuration that would only surface as
// confusing behavior later.
func validateConfig(eff *config.EffectiveConfigResult) error {
	cfg := &eff.Config
	if cfg.Identity.UserID == "" {
		return fmt.Errorf("identity.user_id is required (or CHATCORE_USER_ID)")
	}
	if cfg.Identity.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			return fmt.Errorf("identity.device_id is required and no hostname fallback is available")
		}
		cfg.Identity.DeviceID = host
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if !cfg.Remote.Standalone && cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required unless remote.standalone is set")
	}
	if cfg.Coalescer.MinInterval.Duration() < 0 {
		return fmt.Errorf("coalescer.min_interval must not be negative")
	}
	return nil
}
