package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultEnvPrefix = "SONGQUIZ"

type options struct {
	envPrefix string
	flags     map[string]*pflag.Flag
}

type Option func(o *options)

func WithEnvPrefix(p string) Option {
	return func(o *options) {
		o.envPrefix = p
	}
}

// BindFlag overrides key with the flag value when the flag was set on the command line.
func BindFlag(key string, f *pflag.Flag) Option {
	return func(o *options) {
		if f != nil {
			o.flags[key] = f
		}
	}
}

// Load config into the config struct, config must be a pointer to the config struct.
// The values already in config are the defaults, then the file, the environment and
// the bound flags override them in that order. An empty file skips the file.
func Load(file string, config any, opts ...Option) error {
	o := options{
		envPrefix: defaultEnvPrefix,
		flags:     make(map[string]*pflag.Flag),
	}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range v.AllKeys() {
		v.SetDefault(key, v.Get(key))
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	for key, f := range o.flags {
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %v", f.Name, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
