package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// Task parameters
	VideoURL     string `mapstructure:"VIDEO_URL" validate:"required,url"`
	TaskName     string `mapstructure:"TASK_NAME" validate:"required"`
	RowIndex     string `mapstructure:"GSHEET_ROW_INDEX" validate:"required"`
	Assignee     string `mapstructure:"ASSIGNEE"`
	Videographer string `mapstructure:"VIDEOGRAPHER"`
	ShootDate    string `mapstructure:"SHOOT_DATE"`
	Notes        string `mapstructure:"NOTES"`

	// Object storage (R2 / S3-compatible). All optional: when unset the
	// publication stage degrades to the original source URL.
	R2AccountID    string `mapstructure:"R2_ACCOUNT_ID"`
	R2AccessKey    string `mapstructure:"R2_ACCESS_KEY"`
	R2SecretKey    string `mapstructure:"R2_SECRET_KEY"`
	R2Bucket       string `mapstructure:"R2_BUCKET"`
	R2CustomDomain string `mapstructure:"R2_CUSTOM_DOMAIN"`

	// Language model
	OpenAIAPIKey  string  `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel   string  `mapstructure:"OPENAI_MODEL"`
	AIMaxTokens   int     `mapstructure:"AI_MAX_TOKENS"`
	AITemperature float64 `mapstructure:"AI_TEMPERATURE"`

	// Webhook
	WebhookURL    string `mapstructure:"N8N_WEBHOOK_URL"`
	WebhookSecret string `mapstructure:"N8N_WEBHOOK_SECRET"`

	// Notion
	NotionAPIKey     string `mapstructure:"NOTION_API_KEY"`
	NotionDatabaseID string `mapstructure:"NOTION_DATABASE_ID"`

	// Behavior
	SkipFailedDownloads    bool `mapstructure:"SKIP_FAILED_DOWNLOADS"`
	TestMode               bool `mapstructure:"TEST_MODE"`
	DownloadTimeoutSeconds int  `mapstructure:"DOWNLOAD_TIMEOUT_SECONDS"`
	YtdlpSelfUpdate        bool `mapstructure:"YTDLP_SELF_UPDATE"`
}

// DownloadTimeout returns the acquisition subprocess deadline.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// StorageConfigured reports whether all required R2 credentials are present.
func (c *Config) StorageConfigured() bool {
	return c.R2AccountID != "" && c.R2AccessKey != "" && c.R2SecretKey != ""
}

// NotionConfigured reports whether the Notion channel can be enabled.
func (c *Config) NotionConfigured() bool {
	return c.NotionAPIKey != "" && c.NotionDatabaseID != ""
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("R2_BUCKET", "video-automation")
	viper.SetDefault("OPENAI_MODEL", "gpt-4-turbo-preview")
	viper.SetDefault("AI_MAX_TOKENS", 1000)
	viper.SetDefault("AI_TEMPERATURE", 0.7)
	viper.SetDefault("DOWNLOAD_TIMEOUT_SECONDS", 600)
	viper.SetDefault("SHOOT_DATE", time.Now().Format("2006-01-02"))

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		// The parsed config is returned alongside the error so the
		// caller can still reach the reporting channels it names.
		return &cfg, fmt.Errorf("validate config: %w", err)
	}

	slog.Info("Loaded configuration",
		"task", cfg.TaskName,
		"row_index", cfg.RowIndex,
		"storage_configured", cfg.StorageConfigured(),
		"llm_configured", cfg.OpenAIAPIKey != "",
		"webhook_configured", cfg.WebhookURL != "",
		"notion_configured", cfg.NotionConfigured(),
		"tolerant_mode", cfg.SkipFailedDownloads,
		"test_mode", cfg.TestMode)

	return &cfg, nil
}
