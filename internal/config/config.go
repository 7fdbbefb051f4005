// Package config loads localqueue settings from defaults, an optional YAML
// file and LOCALQUEUE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"localqueue/internal/domain"
)

const EnvPrefix = "LOCALQUEUE"

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
	Store     StoreConfig      `mapstructure:"store"`
	Worker    WorkerConfig     `mapstructure:"worker"`
	Schedules []ScheduleConfig `mapstructure:"schedules" validate:"dive"`
}

type ServerConfig struct {
	Addr  string `mapstructure:"addr" validate:"required"`
	Debug bool   `mapstructure:"debug"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Console bool   `mapstructure:"console"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=memory sqlite gorm redis"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisAddr   string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisDB     int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type WorkerConfig struct {
	Count       int  `mapstructure:"count" validate:"gte=1,lte=256"`
	EnableShell bool `mapstructure:"enable_shell"`
}

// ScheduleConfig is one periodic submission. Enabled defaults to true.
type ScheduleConfig struct {
	Name       string         `mapstructure:"name" validate:"required"`
	Cron       string         `mapstructure:"cron" validate:"required"`
	TaskType   string         `mapstructure:"task_type" validate:"required"`
	Parameters map[string]any `mapstructure:"parameters"`
	Enabled    *bool          `mapstructure:"enabled"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "localqueue.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "localqueue:")
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.enable_shell", false)
}

// Load reads path (skipped when empty), applies environment overrides such
// as LOCALQUEUE_STORE_DRIVER and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if (c.Store.Driver == "sqlite" || c.Store.Driver == "gorm") && c.Store.SQLitePath == "" {
		return errors.New("invalid config: store.sqlite_path is required for the " + c.Store.Driver + " driver")
	}
	return nil
}

// DomainSchedules converts the configured schedules for the scheduler.
func (c Config) DomainSchedules() []domain.Schedule {
	out := make([]domain.Schedule, 0, len(c.Schedules))
	for _, s := range c.Schedules {
		out = append(out, domain.Schedule{
			Name:       s.Name,
			CronExpr:   s.Cron,
			TaskType:   s.TaskType,
			Parameters: s.Parameters,
			Enabled:    s.Enabled == nil || *s.Enabled,
		})
	}
	return out
}
