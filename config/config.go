// Package config loads and watches the yaml configuration shared by the
// authority and the gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	dc "github.com/everstory/authcore/data/config"
	"github.com/everstory/authcore/logging/logger"
)

// Config represents the configuration implementation.
type Config struct {
	AppName string
	RunMode string
	Host    string
	Port    int
	Logger  *logger.Config
	Data    *dc.Data
	Auth    *Auth
	Gateway *Gateway
	Viper   *viper.Viper
}

// LoadConfig loads the configuration from the file.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath("/etc/everstory")
		v.AddConfigPath("$HOME/.everstory")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(ex))
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return FromViper(v), nil
}

// FromViper builds the configuration from an already populated viper.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AppName: v.GetString("app_name"),
		RunMode: v.GetString("run_mode"),
		Host:    v.GetString("server.host"),
		Port:    v.GetInt("server.port"),
		Logger:  getLoggerConfig(v),
		Data:    dc.GetDataConfig(v),
		Auth:    getAuthConfig(v),
		Gateway: getGatewayConfig(v),
		Viper:   v,
	}
}

func getLoggerConfig(v *viper.Viper) *logger.Config {
	return &logger.Config{
		Level:      v.GetInt("logger.level"),
		Format:     v.GetString("logger.format"),
		Output:     v.GetString("logger.output"),
		OutputFile: v.GetString("logger.output_file"),
	}
}

// Watch reloads the configuration whenever the file changes and hands the
// fresh Config to the callback. Viper re-reads the file before firing the
// change event, so the callback only has to rebuild the typed view.
func (c *Config) Watch(callback func(*Config)) {
	c.Viper.OnConfigChange(func(fsnotify.Event) {
		callback(FromViper(c.Viper))
	})
	c.Viper.WatchConfig()
}
