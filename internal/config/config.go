package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	AutoPlay  AutoPlayConfig  `mapstructure:"autoplay"`
	Animation AnimationConfig `mapstructure:"animation"`
	History   HistoryConfig   `mapstructure:"history"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type BackendConfig struct {
	URL            string `mapstructure:"url"`
	Transport      string `mapstructure:"transport"`      // ws, poll
	ReconnectDelay int    `mapstructure:"reconnectDelay"` // seconds
}

type AutoPlayConfig struct {
	DefaultSpeed float64 `mapstructure:"defaultSpeed"` // seconds between turns
	MinSpeed     float64 `mapstructure:"minSpeed"`
	MaxSpeed     float64 `mapstructure:"maxSpeed"`
}

type AnimationConfig struct {
	WindowMillis int `mapstructure:"windowMillis"`
}

type HistoryConfig struct {
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redisAddr"` // empty disables the leaderboard
	RedisDB   int    `mapstructure:"redisDB"`
}

var GlobalConfig *Config

func LoadConfig(path string) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("backend.transport", "ws")
	viper.SetDefault("backend.reconnectDelay", 3)
	viper.SetDefault("autoplay.defaultSpeed", 1.5)
	viper.SetDefault("autoplay.minSpeed", 0.1)
	viper.SetDefault("autoplay.maxSpeed", 3.0)
	viper.SetDefault("animation.windowMillis", 400)
	viper.SetDefault("history.dsn", "viewer.db")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	GlobalConfig = &cfg
}
