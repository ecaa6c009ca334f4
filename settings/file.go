package settings

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FLOWBRIDGE_WEBHOOK_URL.
const EnvPrefix = "FLOWBRIDGE"

// LoadFile reads option values from a YAML, JSON or TOML file, with
// environment variables taking precedence. Only known option names are
// returned. An empty path reads the environment alone.
func LoadFile(path string) (map[string]any, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("settings: read %s: %w", path, err)
		}
	}

	out := make(map[string]any)
	for _, name := range Names() {
		if v.IsSet(name) {
			out[name] = v.Get(name)
		}
	}
	return out, nil
}
