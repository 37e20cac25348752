package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/campus/internal/config"
)

const DefaultProfileName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Resolve determines the active profile name and validates it. Precedence:
// the --profile flag, then config.toml default_profile, then "main".
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		name = DefaultProfileName
		if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultProfile != "" {
			name = cfg.DefaultProfile
		}
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateName checks that name is usable as a profile directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match %s", name, nameRegexp)
	}
	return nil
}
