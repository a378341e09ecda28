// Package config holds the per-store configuration structs read from the
// data.* namespace of the service configuration file.
package config

import "github.com/spf13/viper"

// Data holds the configuration of all data stores a service connects to.
type Data struct {
	Database *Database `json:"database" yaml:"database"`
	Redis    *Redis    `json:"redis" yaml:"redis"`
	RabbitMQ *RabbitMQ `json:"rabbitmq" yaml:"rabbitmq"`
}

// GetDataConfig reads data store configurations.
func GetDataConfig(v *viper.Viper) *Data {
	return &Data{
		Database: getDatabaseConfig(v),
		Redis:    getRedisConfigs(v),
		RabbitMQ: getRabbitMQConfigs(v),
	}
}
