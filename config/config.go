package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cwrk-planet/chat-client/pkg/logger"

	"gopkg.in/yaml.v3"
)

type Endpoint struct {
	HTTP    string        `yaml:"http"`    // http://localhost:4010/graphql
	WS      string        `yaml:"ws"`      // ws://localhost:4010/graphql
	Timeout time.Duration `yaml:"timeout"` // "5s", на один query/mutation
}

type Client struct {
	UserID           int `yaml:"userID"`           // 1
	MaxMessageLength int `yaml:"maxMessageLength"` // 4000
}

type Retry struct {
	InitialInterval time.Duration `yaml:"initialInterval"` // "500ms"
	MaxInterval     time.Duration `yaml:"maxInterval"`     // "30s"
	Multiplier      float64       `yaml:"multiplier"`      // 1.5
	MaxElapsedTime  time.Duration `yaml:"maxElapsedTime"`  // "0s": без ограничения
}

type Subscription struct {
	AckTimeout time.Duration `yaml:"ackTimeout"` // "5s"
	PingEvery  time.Duration `yaml:"pingEvery"`  // "15s"
	Retry      Retry         `yaml:"retry"`
}

type Metrics struct {
	Addr string `yaml:"addr"` // если пусто, диагностический сервер не поднимается
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod, пусто: APP_ENV
	Service   string `yaml:"service"`   // chat-client
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap, пусто: std в dev, zap иначе
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Config struct {
	Endpoint     Endpoint     `yaml:"endpoint"`
	Client       Client       `yaml:"client"`
	Subscription Subscription `yaml:"subscription"`
	Metrics      Metrics      `yaml:"metrics"`
	Logging      Logging      `yaml:"logging"`
}

// LoadConfig читает YAML: путь из аргумента, иначе CONFIG_PATH,
// иначе ./config/config.yaml.
func LoadConfig(path ...string) (*Config, error) {
	p := ""
	if len(path) > 0 {
		p = path[0]
	}
	if p == "" {
		p = os.Getenv("CONFIG_PATH")
	}
	if p == "" {
		p = "./config/config.yaml"
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Endpoint.HTTP == "" {
		return errors.New("endpoint.http is required")
	}
	if c.Endpoint.WS == "" {
		return errors.New("endpoint.ws is required")
	}
	if c.Client.UserID < 0 {
		return errors.New("client.userID must be positive")
	}
	if c.Client.MaxMessageLength < 0 {
		return errors.New("client.maxMessageLength must be positive")
	}
	if c.Logging.Env != "" && logger.ParseEnv(c.Logging.Env) == "" {
		return fmt.Errorf("logging.env: unknown env %q", c.Logging.Env)
	}
	switch logger.Backend(c.Logging.Backend) {
	case "", logger.BackendStd, logger.BackendZap:
	default:
		return fmt.Errorf("logging.backend: unknown backend %q", c.Logging.Backend)
	}
	if m := c.Subscription.Retry.Multiplier; m != 0 && m < 1 {
		return errors.New("subscription.retry.multiplier must be >= 1")
	}

	// установка дефолтов, если значения не указаны
	if c.Endpoint.Timeout == 0 {
		c.Endpoint.Timeout = 5 * time.Second
	}
	if c.Client.UserID == 0 {
		c.Client.UserID = 1
	}
	if c.Client.MaxMessageLength == 0 {
		c.Client.MaxMessageLength = 4000
	}
	if c.Subscription.AckTimeout == 0 {
		c.Subscription.AckTimeout = 5 * time.Second
	}
	if c.Subscription.PingEvery == 0 {
		c.Subscription.PingEvery = 15 * time.Second
	}
	if c.Subscription.Retry.InitialInterval == 0 {
		c.Subscription.Retry.InitialInterval = 500 * time.Millisecond
	}
	if c.Subscription.Retry.MaxInterval == 0 {
		c.Subscription.Retry.MaxInterval = 30 * time.Second
	}
	if c.Subscription.Retry.Multiplier == 0 {
		c.Subscription.Retry.Multiplier = 1.5
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "chat-client"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	return nil
}
