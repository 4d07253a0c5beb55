package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// APIKeyEntry maps a workspace-scoped static API key to the user it acts
// as. These keys are the credential for workflow-driven calls.
type APIKeyEntry struct {
	Key    string `mapstructure:"key"`
	UserID string `mapstructure:"user_id"`
}

// Config holds all service configuration.
type Config struct {
	HTTPAddress string

	// Empty DSN selects the in-memory store (local development only).
	PostgresDSN string

	// Empty address selects the in-memory session store.
	RedisAddr     string
	RedisPassword string

	EmbeddingAPIKey  string
	EmbeddingBaseURL string

	// Empty bucket selects the local filesystem object store rooted at
	// ObjectStorePath.
	S3Region          string
	S3Endpoint        string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool
	ObjectStorePath   string

	ProcessingTimeout    time.Duration
	SchedulerConcurrency int
	SchedulerBatchSize   int

	APIKeys []APIKeyEntry `mapstructure:"api_keys"`
}

// LoadConfig loads configuration from config files and environment
// variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"HTTPAddress":          "HTTP_ADDRESS",
		"PostgresDSN":          "POSTGRES_DSN",
		"RedisAddr":            "REDIS_ADDR",
		"RedisPassword":        "REDIS_PASSWORD",
		"EmbeddingAPIKey":      "EMBEDDING_API_KEY",
		"EmbeddingBaseURL":     "EMBEDDING_BASE_URL",
		"S3Region":             "S3_REGION",
		"S3Endpoint":           "S3_ENDPOINT",
		"S3Bucket":             "S3_BUCKET",
		"S3AccessKeyID":        "S3_ACCESS_KEY_ID",
		"S3SecretAccessKey":    "S3_SECRET_ACCESS_KEY",
		"S3ForcePathStyle":     "S3_FORCE_PATH_STYLE",
		"ObjectStorePath":      "OBJECT_STORE_PATH",
		"ProcessingTimeout":    "PROCESSING_TIMEOUT",
		"SchedulerConcurrency": "SCHEDULER_CONCURRENCY",
		"SchedulerBatchSize":   "SCHEDULER_BATCH_SIZE",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("corpus_config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.corpus")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTPAddress", ":8080")
	v.SetDefault("ObjectStorePath", "./data/objects")
	v.SetDefault("S3Region", "us-east-1")
	v.SetDefault("ProcessingTimeout", 150*time.Second)
	v.SetDefault("SchedulerConcurrency", 3)
	v.SetDefault("SchedulerBatchSize", 5)
}

func validateConfig(config *Config) error {
	var missingVars []string

	if config.EmbeddingAPIKey == "" {
		missingVars = append(missingVars, "EMBEDDING_API_KEY")
	}

	if config.S3Bucket != "" && config.S3AccessKeyID == "" {
		missingVars = append(missingVars, "S3_ACCESS_KEY_ID")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missingVars, ", "))
	}

	return nil
}

// APIKeyUserIDs returns the API key → user id lookup used by the auth
// middleware.
func (c *Config) APIKeyUserIDs() map[string]string {
	keys := make(map[string]string, len(c.APIKeys))
	for _, entry := range c.APIKeys {
		keys[entry.Key] = entry.UserID
	}
	return keys
}
