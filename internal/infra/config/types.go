package config

import "strings"

// Environment identifies the runtime environment the connector runs in.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// BusKind selects the pub/sub backend.
type BusKind string

const (
	BusRedis  BusKind = "redis"
	BusMemory BusKind = "memory"
)

func normalizeToken(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
