// Package config loads env-tagged configuration structs.
//
// It wraps github.com/joho/godotenv for .env files and
// github.com/caarlos0/env/v11 for parsing:
//
//	if err := config.LoadEnv("./deploy/.env"); err != nil {
//	    return err
//	}
//	var cfg experimentation.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Parse reads from an explicit map instead of the process environment, which
// keeps tests independent of each other.
package config
