package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr       string
		ImportRate string `mapstructure:"import_rate"`
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Telegram struct {
		Token       string
		AdminChatID int64   `mapstructure:"admin_chat_id"`
		AlertChats  []int64 `mapstructure:"alert_chats"`
	} `mapstructure:"telegram"`

	RBAC struct {
		URL     string
		Timeout time.Duration
	} `mapstructure:"rbac"`

	Redis struct {
		Addr     string
		Password string
		DB       int
		TTL      time.Duration
	} `mapstructure:"redis"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Warehouse struct {
		StagingBin string `mapstructure:"staging_bin"`
	} `mapstructure:"warehouse"`

	Import struct {
		MaxRows int `mapstructure:"max_rows"`
	} `mapstructure:"import"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.import_rate", "30-M")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("rbac.timeout", 3*time.Second)
	v.SetDefault("redis.ttl", time.Minute)
	v.SetDefault("warehouse.staging_bin", "TEMP-BIN-01")
	v.SetDefault("import.max_rows", 5000)

	// пустые значения нужны, чтобы Unmarshal увидел ключи, заданные только через ENV
	for _, key := range []string{
		"postgres.dsn", "telegram.token", "rbac.url",
		"redis.addr", "redis.password", "auth.jwt_secret",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("redis.db", 0)
}

// Load читает YAML, поверх него переменные окружения APP_* (app.env -> APP_APP_ENV).
// Файл .env рядом с бинарником подхватывается, если он есть.
func Load(path string) (Config, error) {
	var c Config
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return c, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return c, errors.New("postgres.dsn is required")
	}
	return c, nil
}
