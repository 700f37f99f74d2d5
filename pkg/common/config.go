package common

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed config.default.yaml
var defaultConfig []byte

const (
	configPathEnv = "CONFIG_PATH"
	configJSONEnv = "CONFIG_JSON"
)

// ConfigManager loads layered configuration: embedded defaults, then an
// optional YAML file pointed to by CONFIG_PATH, then a CONFIG_JSON override.
type ConfigManager[T any] struct {
	k *koanf.Koanf
}

func NewConfigManager[T any]() (*ConfigManager[T], error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	if path := os.Getenv(configPathEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if raw := os.Getenv(configJSONEnv); raw != "" {
		if err := k.Load(rawbytes.Provider([]byte(raw)), json.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", configJSONEnv, err)
		}
	}

	return &ConfigManager[T]{k: k}, nil
}

// GetConfig unmarshals the merged configuration into T using `key` tags.
func (cm *ConfigManager[T]) GetConfig() T {
	var config T
	cm.k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "key"})
	return config
}

// LoadConfig merges an additional YAML document over the current state.
// Used by tests to apply overrides without environment variables.
func (cm *ConfigManager[T]) LoadConfig(raw []byte) error {
	return cm.k.Load(rawbytes.Provider(raw), yaml.Parser())
}
