package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug or release
	// WaitTimeout 同步合并接口等待任务的上限，超时返回 202
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// TasksConfig 任务队列相关配置
type TasksConfig struct {
	Workers            int           `mapstructure:"workers"`
	MaxHistory         int           `mapstructure:"max_history"`
	StoreRetryAttempts uint          `mapstructure:"store_retry_attempts"`
	StoreRetryDelay    time.Duration `mapstructure:"store_retry_delay"`
}

type SchedulerConfig struct {
	// MaintenanceCron 为空时禁用定时维护任务
	MaintenanceCron string `mapstructure:"maintenance_cron"`
}

type MetadataConfig struct {
	TmdbToken string `mapstructure:"tmdb_token"`
	Proxy     string `mapstructure:"proxy"`
}

var AppConfig *Config

func LoadConfig(configPath string) error {
	v := viper.New()

	// 默认值
	v.SetDefault("server.port", 7768)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.wait_timeout", "60s")
	v.SetDefault("database.path", "data/danmu.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.max_history", 500)
	v.SetDefault("tasks.store_retry_attempts", 3)
	v.SetDefault("tasks.store_retry_delay", "200ms")
	v.SetDefault("scheduler.maintenance_cron", "@every 6h")
	v.SetDefault("metadata.tmdb_token", "")
	v.SetDefault("metadata.proxy", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	// 环境变量覆盖 (DANMU_ 前缀)，例如 DANMU_TASKS_WORKERS=8
	v.SetEnvPrefix("DANMU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		fmt.Println("Config file not found, using defaults")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Tasks.Workers <= 0 {
		cfg.Tasks.Workers = 1
	}

	AppConfig = cfg
	return nil
}
