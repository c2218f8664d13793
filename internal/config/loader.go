package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/mora/internal/db"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	App      AppConfig
	GraphQL  GraphQLConfig
	Events   EventsConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// AppConfig holds application behaviour settings
type AppConfig struct {
	// Environment is "production" or anything else; non-production logs stack traces.
	Environment string
	// RootOrganisation overrides the lookup of the single stored organisation.
	RootOrganisation uuid.UUID
	// AccessLog records every read by UUID in the audit log.
	AccessLog bool
}

// GraphQLConfig holds GraphQL execution settings
type GraphQLConfig struct {
	MaxParallelism int
	MaxDepth       int
}

// EventsConfig holds event-claim settings
type EventsConfig struct {
	EmptyFetchDelay time.Duration
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string
}

// Production reports whether the service runs in production mode.
func (c AppConfig) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("app.environment", "development")
	v.SetDefault("app.root_organisation", "")
	v.SetDefault("app.access_log", false)

	v.SetDefault("graphql.max_parallelism", 10)
	v.SetDefault("graphql.max_depth", 12)

	v.SetDefault("events.empty_fetch_delay", 200*time.Millisecond)

	v.SetDefault("log.level", "info")
}

// Load reads config.yaml from configPath (if present) and MORA_* environment overrides.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("MORA") // map env vars like MORA_DATABASE_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // allow environment overrides

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
		},
		App: AppConfig{
			Environment: v.GetString("app.environment"),
			AccessLog:   v.GetBool("app.access_log"),
		},
		GraphQL: GraphQLConfig{
			MaxParallelism: v.GetInt("graphql.max_parallelism"),
			MaxDepth:       v.GetInt("graphql.max_depth"),
		},
		Events: EventsConfig{
			EmptyFetchDelay: v.GetDuration("events.empty_fetch_delay"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}

	if raw := v.GetString("app.root_organisation"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid app.root_organisation %q: %w", raw, err)
		}
		cfg.App.RootOrganisation = id
	}

	if cfg.Events.EmptyFetchDelay < 0 {
		return Config{}, fmt.Errorf("events.empty_fetch_delay must not be negative")
	}

	return cfg, nil
}
