package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Storage StorageConfig `mapstructure:"storage"`
	Restore RestoreConfig `mapstructure:"restore"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	// Dotenv is the credentials file read when no hosting platform is detected.
	Dotenv string `mapstructure:"dotenv"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type BackupConfig struct {
	Name           string            `mapstructure:"name"`
	TempDir        string            `mapstructure:"temp_dir"`
	Folders        map[string]string `mapstructure:"folders"`
	Exclude        []string          `mapstructure:"exclude"`
	SchemaOnly     SchemaOnlyConfig  `mapstructure:"schema_only"`
	KeepLocal      bool              `mapstructure:"keep_local"`
	RetentionDays  int               `mapstructure:"retention_days"`
	Schedule       string            `mapstructure:"schedule"`
	SnapshotRedact []string          `mapstructure:"snapshot_redact"`
	MySQLDumpPath  string            `mapstructure:"mysqldump_path"`
	PgDumpPath     string            `mapstructure:"pg_dump_path"`
}

type SchemaOnlyConfig struct {
	Tables         []string `mapstructure:"tables"`
	DrupalDefaults bool     `mapstructure:"drupal_defaults"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	S3     S3Config     `mapstructure:"s3"`
	GDrive GDriveConfig `mapstructure:"gdrive"`
	Local  LocalConfig  `mapstructure:"local"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
	Prefix    string `mapstructure:"prefix"`
}

type GDriveConfig struct {
	CredentialsFile   string `mapstructure:"credentials_file"`
	ClientSecretFile  string `mapstructure:"client_secret_file"`
	ClientID          string `mapstructure:"client_id"`
	ClientSecret      string `mapstructure:"client_secret"`
	RefreshToken      string `mapstructure:"refresh_token"`
	FolderID          string `mapstructure:"folder_id"`
	AuthListenAddress string `mapstructure:"auth_listen_address"`
}

type LocalConfig struct {
	Path string `mapstructure:"path"`
}

type RestoreConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

const DefaultFilesFolder = "docroot/sites/default/files"

const (
	StorageAzure  = "azure"
	StorageS3     = "s3"
	StorageGDrive = "gdrive"
	StorageLocal  = "local"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "offsite")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")

	v.SetDefault("backup.name", "backup")
	v.SetDefault("backup.temp_dir", os.TempDir())
	v.SetDefault("backup.exclude", []string{
		"files/translations", "files/styles", "files/php", "files/js", "files/css",
	})
	v.SetDefault("backup.schema_only.tables", []string{"search_api_db_content_text", "ultimate_cron_log"})
	v.SetDefault("backup.schema_only.drupal_defaults", true)
	v.SetDefault("backup.keep_local", true)
	v.SetDefault("backup.retention_days", 7)
	v.SetDefault("backup.schedule", "0 0 2 * * *")
	v.SetDefault("backup.snapshot_redact", []string{})
	v.SetDefault("backup.mysqldump_path", "mysqldump")
	v.SetDefault("backup.pg_dump_path", "pg_dump")

	v.SetDefault("storage.type", StorageAzure)
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.path_style", false)
	v.SetDefault("storage.local.path", "offsite-store")
	v.SetDefault("storage.gdrive.auth_listen_address", "127.0.0.1:8085")

	v.SetDefault("restore.concurrency", 1)

	v.SetDefault("notify.telegram.enabled", false)

	v.SetDefault("dotenv", ".env")
}

// Load reads the YAML settings file at path. A missing file leaves the
// defaults in place. OFFSITE_-prefixed environment variables override file
// values, e.g. OFFSITE_STORAGE_TYPE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("offsite")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// Set after unmarshalling so a configured map replaces the default
	// instead of being merged with it.
	if len(cfg.Backup.Folders) == 0 {
		cfg.Backup.Folders = map[string]string{"files": DefaultFilesFolder}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Backup.Name == "" {
		return fmt.Errorf("backup.name is required")
	}
	if strings.ContainsAny(c.Backup.Name, `/\`) {
		return fmt.Errorf("backup.name must not contain path separators")
	}
	if c.Backup.TempDir == "" {
		return fmt.Errorf("backup.temp_dir is required")
	}
	for key, dir := range c.Backup.Folders {
		if key == "" || dir == "" {
			return fmt.Errorf("backup.folders: empty key or directory")
		}
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative")
	}
	if c.Restore.Concurrency < 1 {
		return fmt.Errorf("restore.concurrency must be at least 1")
	}

	switch c.Storage.Type {
	case StorageAzure:
	case StorageS3:
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required")
		}
	case StorageGDrive:
		if c.Storage.GDrive.FolderID == "" {
			return fmt.Errorf("storage.gdrive.folder_id is required")
		}
	case StorageLocal:
		if c.Storage.Local.Path == "" {
			return fmt.Errorf("storage.local.path is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when enabled")
		}
		if c.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id is required when enabled")
		}
	}

	return nil
}
