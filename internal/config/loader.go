package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/skadler/advfilters/internal/db"
)

// Config carries the full runtime configuration of the filter service.
type Config struct {
	Database  db.Config
	Server    ServerConfig
	Filters   FiltersConfig
	Catalog   CatalogConfig
	Export    ExportConfig
	Ingestion IngestionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

// FiltersConfig bounds stored filter definitions and listings.
type FiltersConfig struct {
	MaxEncodedLength int
	PageSize         int
}

// CatalogConfig controls the schema catalog cache and which entity types
// are open to filtering. An empty EntityTypes list opens every type.
type CatalogConfig struct {
	TTL         time.Duration
	EntityTypes []string
}

// ExportConfig holds export job settings.
type ExportConfig struct {
	Dir              string
	JobTimeout       time.Duration
	DownloadTokenTTL time.Duration
}

// IngestionConfig bounds uploads.
type IngestionConfig struct {
	MaxUploadBytes int64
}

// Default returns the built-in configuration used when no config file or
// environment overrides are present.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Filters: FiltersConfig{
			MaxEncodedLength: 2048,
			PageSize:         100,
		},
		Catalog: CatalogConfig{
			TTL: time.Minute,
		},
		Export: ExportConfig{
			Dir:              "./exports",
			JobTimeout:       30 * time.Minute,
			DownloadTokenTTL: 5 * time.Minute,
		},
		Ingestion: IngestionConfig{
			MaxUploadBytes: 32 << 20,
		},
	}
}

func Load(configPath string) (Config, error) {
	// Start with default
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()       // allow environment overrides
	v.SetEnvPrefix("ADVF") // map env vars like ADVF_DATABASE.HOST

	// Optional: Map nested keys to flat env vars
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.listen_addr")
	v.BindEnv("filters.max_encoded_length")
	v.BindEnv("filters.page_size")
	v.BindEnv("catalog.ttl")
	v.BindEnv("export.dir")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.listen_addr") {
		cfg.Server.ListenAddr = v.GetString("server.listen_addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("filters.max_encoded_length") {
		cfg.Filters.MaxEncodedLength = v.GetInt("filters.max_encoded_length")
	}
	if v.IsSet("filters.page_size") {
		cfg.Filters.PageSize = v.GetInt("filters.page_size")
	}

	if v.IsSet("catalog.ttl") {
		cfg.Catalog.TTL = v.GetDuration("catalog.ttl")
	}
	if v.IsSet("catalog.entity_types") {
		cfg.Catalog.EntityTypes = v.GetStringSlice("catalog.entity_types")
	}

	if v.IsSet("export.dir") {
		cfg.Export.Dir = v.GetString("export.dir")
	}
	if v.IsSet("export.job_timeout") {
		cfg.Export.JobTimeout = v.GetDuration("export.job_timeout")
	}
	if v.IsSet("export.download_token_ttl") {
		cfg.Export.DownloadTokenTTL = v.GetDuration("export.download_token_ttl")
	}

	if v.IsSet("ingestion.max_upload_bytes") {
		cfg.Ingestion.MaxUploadBytes = v.GetInt64("ingestion.max_upload_bytes")
	}

	return cfg, nil
}
