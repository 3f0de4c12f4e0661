package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFileName is the name of the environment variables file.
const EnvFileName = ".env"

// LoadDotEnv loads environment variables from .iflow/.env under baseDir if
// it exists. Variables already set in the environment win.
func LoadDotEnv(baseDir string) error {
	envPath := filepath.Join(baseDir, Dir, EnvFileName)

	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}

	return godotenv.Load(envPath)
}

// LoadDotEnvFromCwd loads .iflow/.env from the current working directory.
func LoadDotEnvFromCwd() error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	return LoadDotEnv(cwd)
}
