package session

import (
	"fmt"
	"os"

	"github.com/matheus3301/chatlog/internal/config"
)

const DefaultSessionName = "main"

// EnvSession selects the session when no --session flag is given.
const EnvSession = "CHATLOG_SESSION"

// Resolve picks the session name from, in order: the --session flag, the
// CHATLOG_SESSION environment variable, default_session in the config file
// at configPath (ConfigPath() when empty) and DefaultSessionName. The
// chosen name is validated.
func Resolve(flagOverride, configPath string) (string, error) {
	name, err := pick(flagOverride, configPath)
	if err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func pick(flagOverride, configPath string) (string, error) {
	if flagOverride != "" {
		return flagOverride, nil
	}
	if name := os.Getenv(EnvSession); name != "" {
		return name, nil
	}
	if configPath == "" {
		configPath = ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	if cfg.DefaultSession != "" {
		return cfg.DefaultSession, nil
	}
	return DefaultSessionName, nil
}
