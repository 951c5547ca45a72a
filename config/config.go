package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Interpreter InterpreterConfig `mapstructure:"interpreter"`
	Security    SecurityConfig    `mapstructure:"security"`
	Script      ScriptConfig      `mapstructure:"script"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
	// FlushInterval is the write-behind period of the game state store.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type InterpreterConfig struct {
	FrameRate     int    `mapstructure:"frame_rate"`
	CommandBudget int    `mapstructure:"command_budget"`
	EventsDir     string `mapstructure:"events_dir"`
	MapID         int    `mapstructure:"map_id"`
	// Journal enables the event run log.
	Journal bool `mapstructure:"journal"`
}

// FrameInterval returns the tick period for FrameRate.
func (c InterpreterConfig) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.FrameRate)
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminIPs restricts the control API to these IPs or CIDR ranges.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type ScriptConfig struct {
	Dir        string        `mapstructure:"dir"` // *.js hook files
	VMPoolSize int           `mapstructure:"vm_pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/events.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("database.flush_interval", "5s")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("interpreter.frame_rate", 60)
	v.SetDefault("interpreter.command_budget", 100)
	v.SetDefault("interpreter.events_dir", "./data/events")
	v.SetDefault("interpreter.map_id", 1)
	v.SetDefault("interpreter.journal", true)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("script.dir", "./data/scripts")
	v.SetDefault("script.vm_pool_size", 8)
	v.SetDefault("script.timeout", "5s")
}

// Load reads config from the given YAML file path. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
