// Package config is the configuration singleton of the iflow CLI.
//
// Values come, in decreasing precedence, from IFLOW_* environment
// variables (including those of .iflow/.env), the project config file
// .iflow/config.yaml found by walking up from the working directory, the
// user config file $XDG_CONFIG_HOME/iflow/config.yaml, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dir is the name of the per-project configuration directory.
const Dir = ".iflow"

var v *viper.Viper

// Initialize builds the configuration singleton. It may be called again
// to pick up changed files or environment.
func Initialize() error {
	if err := LoadDotEnvFromCwd(); err != nil {
		return fmt.Errorf("load %s/%s: %w", Dir, EnvFileName, err)
	}

	nv := viper.New()
	nv.SetConfigType("yaml")
	setDefaults(nv)

	nv.SetEnvPrefix("IFLOW")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	if path, err := findProjectConfigYaml(); err == nil {
		nv.SetConfigFile(path)
	} else if userDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(userDir, "iflow", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			nv.SetConfigFile(path)
		}
	}
	if nv.ConfigFileUsed() != "" {
		if err := nv.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config %s: %w", nv.ConfigFileUsed(), err)
			}
		}
	}

	v = nv
	return nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("db.backend", "sqlite")
	nv.SetDefault("db.path", filepath.Join(Dir, "issues.db"))
	nv.SetDefault("db.dsn", "")
	nv.SetDefault("db.database", "issueflow")
	nv.SetDefault("storage.batch-size", 500)
	nv.SetDefault("actor", "")
	nv.SetDefault("permissions-file", filepath.Join(Dir, "permissions.yaml"))
	nv.SetDefault("rules-file", filepath.Join(Dir, "rules.toml"))
	nv.SetDefault("json", false)
	nv.SetDefault("telemetry.enabled", false)
	nv.SetDefault("lock-timeout", 30*time.Second)
}

// ResetForTesting drops the singleton.
func ResetForTesting() {
	v = nil
}

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value for the running process.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// UnmarshalKey decodes the value at key into out.
func UnmarshalKey(key string, out interface{}) error {
	if v == nil {
		return nil
	}
	return v.UnmarshalKey(key, out)
}

// ProjectDir returns the directory holding the project's .iflow directory,
// or the working directory when there is none.
func ProjectDir() string {
	if path, err := findProjectConfigYaml(); err == nil {
		return filepath.Dir(filepath.Dir(path))
	}
	cwd, _ := os.Getwd()
	return cwd
}

// ResolvePath makes a configured relative path relative to ProjectDir.
func ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(ProjectDir(), p)
}
