package config

import (
	"strings"
)

// Environment identifies the runtime environment where feedgate operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

var environmentAliases = map[string]Environment{
	"development": EnvDev,
	"production":  EnvProd,
	"stage":       EnvStaging,
}

func normalizeEnvironment(raw string) Environment {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return EnvDev
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return Environment(env)
}
