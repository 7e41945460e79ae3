// Package config loads env-tagged configuration structs.
//
// It wraps github.com/caarlos0/env/v11 for parsing and
// github.com/joho/godotenv for .env files. Every configuration type (and
// prefix) is parsed once per process and cached:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// LoadWithPrefix parses the same struct under a variable prefix, which is
// how two connections of the same kind are configured side by side.
// ResetCache and ForceReloadConfig exist for tests.
package config
