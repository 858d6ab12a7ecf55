package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for edgelockdown.yaml/.yml
// in standard locations. The search requires an explicit YAML extension so
// the binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("edgelockdown")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: EDGE_LOCKDOWN_STORE_ENDPOINT
	viper.SetEnvPrefix("EDGE_LOCKDOWN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// bindNestedEnvKeys binds nested config keys so AutomaticEnv resolves them.
// Viper only consults the environment for keys it knows about; Unmarshal of
// nested structs does not register keys on its own.
func bindNestedEnvKeys() {
	keys := []string{
		"store.endpoint",
		"store.auth_token",
		"store.timeout",
		"lockdown.restriction_rule",
		"lockdown.address_set_prefix",
		"lockdown.ip_version",
		"suspension.backend",
		"suspension.path",
		"retry.base",
		"retry.max_retries",
		"log.level",
	}
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}
}

// findConfigFile searches standard locations for an edgelockdown config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".edgelockdown"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "edgelockdown"))
		}
	} else {
		paths = append(paths, "/etc/edgelockdown")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for edgelockdown.yaml
// or edgelockdown.yml.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, name := range []string{"edgelockdown.yaml", "edgelockdown.yml"} {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}
