package config

import (
	"os"

	"github.com/joho/godotenv"
)

// EnvFileName is the name of the environment variables file.
const EnvFileName = ".env"

// LoadDotEnv loads variables from path without overriding ones already set
// in the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = EnvFileName
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
