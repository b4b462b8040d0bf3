package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	EscrowEvents  string `mapstructure:"escrow_events"`
	EscrowExpired string `mapstructure:"escrow_expired"`
}

type BusinessConfig struct {
	OwnerAccountID     int64 `mapstructure:"owner_account_id"`     // 平台账户，收取手续费并具有全局读权限
	FeeRatePercent     int64 `mapstructure:"fee_rate_percent"`     // 手续费率（百分比），默认 1
	MinimumEscrow      int64 `mapstructure:"minimum_escrow"`       // 托管最低入金（最小计价单位），默认 1
	MaxRetryCount      int   `mapstructure:"max_retry_count"`      // outbox 消息最大重试次数
	ExpirySweepSeconds int   `mapstructure:"expiry_sweep_seconds"` // 到期提醒任务扫描间隔（秒）
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	if config.Business.FeeRatePercent <= 0 {
		config.Business.FeeRatePercent = 1
	}
	if config.Business.MinimumEscrow <= 0 {
		config.Business.MinimumEscrow = 1
	}
	if config.Business.ExpirySweepSeconds <= 0 {
		config.Business.ExpirySweepSeconds = 10
	}

	GlobalConfig = config
	return config
}
