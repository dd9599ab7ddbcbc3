package rolltable

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config describes one session: who the user is and where the
// authoritative peer lives. An empty URL means the session hosts the
// authority in-process (the GM-hosted mode).
type Config struct {
	// URL is the authoritative peer's base address, e.g. "ws://host:port".
	// Empty for a GM-hosted session.
	URL string `env:"ROLLTABLE_URL"`

	UserID   string `env:"ROLLTABLE_USER_ID"`
	UserName string `env:"ROLLTABLE_USER_NAME"`
	GM       bool   `env:"ROLLTABLE_GM"`

	// Timeout bounds each operation's channel round trip.
	Timeout time.Duration `env:"ROLLTABLE_TIMEOUT" envDefault:"30s"`
}

// ConfigFromEnv reads the session configuration from ROLLTABLE_*
// environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing session config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.UserID == "" {
		return fmt.Errorf("session config requires a user id")
	}
	if c.URL == "" && !c.GM {
		return fmt.Errorf("a session without a peer URL must be the GM host")
	}
	return nil
}
