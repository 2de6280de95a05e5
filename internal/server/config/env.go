package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/dmitrijs2005/entryledger/internal/flagx"
	"github.com/joho/godotenv"
)

// parseEnv overlays ENTRYLEDGER_* environment variables onto config. When
// -env names a dotenv file it is loaded first; variables already present in
// the environment win over the file.
func parseEnv(config *Config) {
	if file := flagx.EnvFileFlags(); file != "" {
		if err := godotenv.Load(file); err != nil {
			panic(err)
		}
	}

	if err := env.Parse(config); err != nil {
		panic(err)
	}
}
