package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 配置加载（数据库、redis、行情源等）

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FeedConfig 外部行情源（币安合并交易流）
type FeedConfig struct {
	// 合并流的基础地址，例如 wss://stream.binance.com:9443/stream
	StreamURL string `yaml:"stream-url"`
	// 需要订阅的交易对，例如 btcusdt ethusdt
	Symbols []string `yaml:"symbols"`
	// 断开后的重连间隔，行情源是长连接，固定间隔即可
	ReconnectDelay time.Duration `yaml:"reconnect-delay"`
}

// QueueConfig 市价单执行队列
type QueueConfig struct {
	// 队列为空时阻塞等待的上限，超时后重新进入循环检查退出信号
	PopTimeout time.Duration `yaml:"pop-timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

// JournalConfig 成交流水留档，path为空时关闭
type JournalConfig struct {
	Path string `yaml:"path"`
}

// MailConfig 成交通知邮件
type MailConfig struct {
	Host     string `yaml:"smtp_host"`
	Port     int    `yaml:"smtp_port"`
	Username string `yaml:"smtp_user"`
	Password string `yaml:"smtp_password"`
	Sender   string `yaml:"smtp_sender"`
	Enabled  bool   `yaml:"enabled"`
	PreCheck bool   `yaml:"precheck"` // 发送前是否校验收件地址
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	MaxPingCount int    `yaml:"max-ping-count"`

	Db `yaml:"database"`

	Feed    FeedConfig    `yaml:"feed"`
	Queue   QueueConfig   `yaml:"queue"`
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Mail    MailConfig    `yaml:"mail"`
	Journal JournalConfig `yaml:"journal"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	if AppConfig.Feed.ReconnectDelay <= 0 {
		AppConfig.Feed.ReconnectDelay = 5 * time.Second
	}
	if AppConfig.Queue.PopTimeout <= 0 {
		AppConfig.Queue.PopTimeout = 500 * time.Millisecond
	}
	return nil
}
