package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	QUIC     QUICConfig     `mapstructure:"quic"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Presence PresenceConfig `mapstructure:"presence"`
	Typing   TypingConfig   `mapstructure:"typing"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	NodeID   string `mapstructure:"node_id"`
	LogLevel string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr                   string        `mapstructure:"addr"`      // WebTransport 监听地址
	HTTPAddr               string        `mapstructure:"http_addr"` // REST API 监听地址
	HealthAddr             string        `mapstructure:"health_addr"`
	HeartbeatTimeout       time.Duration `mapstructure:"heartbeat_timeout"`
	HeartbeatCheckInterval time.Duration `mapstructure:"heartbeat_check_interval"`
}

type QUICConfig struct {
	MaxIdleTimeout        time.Duration `mapstructure:"max_idle_timeout"`
	KeepAlivePeriod       time.Duration `mapstructure:"keep_alive_period"`
	MaxIncomingStreams    int64         `mapstructure:"max_incoming_streams"`
	MaxIncomingUniStreams int64         `mapstructure:"max_incoming_uni_streams"`
	Allow0RTT             bool          `mapstructure:"allow_0rtt"`
	CertFile              string        `mapstructure:"cert_file"`
	KeyFile               string        `mapstructure:"key_file"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type AuthConfig struct {
	TokenSecret   string        `mapstructure:"token_secret"`
	AccessExpire  time.Duration `mapstructure:"access_expire"`
	RefreshExpire time.Duration `mapstructure:"refresh_expire"`
}

type PresenceConfig struct {
	// OfflineGrace 断连到广播 userOffline 之间的宽限期（秒）
	// 用于容忍多标签页/切页导致的快速重连，避免在线状态抖动
	OfflineGrace int `mapstructure:"offline_grace"`
}

type TypingConfig struct {
	// Expire 最后一次 typing=true 之后的自动过期时间（秒）
	Expire int `mapstructure:"expire"`
}

type WorkerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// Load 从指定路径加载配置
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 填充缺省值
func applyDefaults(cfg *Config) {
	if cfg.App.NodeID == "" {
		cfg.App.NodeID = "dm-1"
	}
	if cfg.Presence.OfflineGrace <= 0 {
		cfg.Presence.OfflineGrace = 3
	}
	if cfg.Typing.Expire <= 0 {
		cfg.Typing.Expire = 6
	}
	if cfg.Worker.Workers <= 0 {
		cfg.Worker.Workers = 64
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = 4096
	}
	if cfg.Server.HeartbeatTimeout <= 0 {
		cfg.Server.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.Server.HeartbeatCheckInterval <= 0 {
		cfg.Server.HeartbeatCheckInterval = 30 * time.Second
	}
}
