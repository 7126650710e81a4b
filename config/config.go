package config

import (
	"fmt"
	"time"

	"chrono-battle/service"

	"github.com/caarlos0/env/v11"
)

// Config параметры сервиса из переменных окружения
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:"0000"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"chrono-battle.db"`

	JWTSecret         string `env:"JWT_SECRET,required,notEmpty"`
	AdminToken        string `env:"ADMIN_TOKEN"`
	FormulaScriptPath string `env:"FORMULA_SCRIPT_PATH"`

	MatchInterval  time.Duration `env:"MATCH_INTERVAL" envDefault:"2s"`
	MatchTimeout   time.Duration `env:"MATCH_TIMEOUT" envDefault:"30s"`
	MatchBaseRange int           `env:"MATCH_BASE_RANGE" envDefault:"100"`
	MatchMaxRange  int           `env:"MATCH_MAX_RANGE" envDefault:"500"`
	MatchRangeStep int           `env:"MATCH_RANGE_STEP" envDefault:"50"`

	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	ReadyTimeout    time.Duration `env:"READY_TIMEOUT" envDefault:"30s"`
	TurnTimeout     time.Duration `env:"TURN_TIMEOUT" envDefault:"90s"`
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" envDefault:"120s"`
	HeartbeatIdle   time.Duration `env:"HEARTBEAT_IDLE" envDefault:"60s"`

	EloKFactor    int `env:"ELO_K_FACTOR" envDefault:"25"`
	SettleWorkers int `env:"SETTLE_WORKERS" envDefault:"2"`
	SettleQueue   int `env:"SETTLE_QUEUE" envDefault:"256"`
}

// Load читает конфигурацию из окружения
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.MatchBaseRange < 0 || c.MatchMaxRange < c.MatchBaseRange:
		return fmt.Errorf("invalid match range: base %d, max %d", c.MatchBaseRange, c.MatchMaxRange)
	case c.MatchInterval <= 0 || c.SweepInterval <= 0:
		return fmt.Errorf("intervals must be positive")
	case c.HeartbeatIdle <= 0:
		return fmt.Errorf("heartbeat idle must be positive")
	}
	return nil
}

// Matcher возвращает настройки подбора
func (c *Config) Matcher() *service.MatcherConfig {
	cfg := service.DefaultMatcherConfig()
	cfg.BaseRange = c.MatchBaseRange
	cfg.MaxRange = c.MatchMaxRange
	cfg.RangeStep = c.MatchRangeStep
	cfg.MatchTimeout = c.MatchTimeout
	return cfg
}

// Battle возвращает настройки боя
func (c *Config) Battle() service.BattleConfig {
	cfg := service.DefaultBattleConfig()
	cfg.ReadyTimeout = c.ReadyTimeout
	cfg.TurnTimeout = c.TurnTimeout
	cfg.DisconnectGrace = c.DisconnectGrace
	return cfg
}

// Settlement возвращает настройки расчета итогов
func (c *Config) Settlement() service.SettlementConfig {
	cfg := service.DefaultSettlementConfig()
	cfg.KFactor = c.EloKFactor
	cfg.Workers = c.SettleWorkers
	cfg.QueueSize = c.SettleQueue
	return cfg
}
