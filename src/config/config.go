package config

import (
	"strings"

	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"
)

const (
	TRACE = "trace"
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
	FATAL = "fatal"
	PANIC = "panic"
)

var (
	LogLevel       string
	validLogLevels = []string{TRACE, DEBUG, INFO, WARN, ERROR, FATAL, PANIC}
)

func ValidateLogLevel() error {
	LogLevel = strings.ToLower(LogLevel)
	if !lo.Contains(validLogLevels, LogLevel) {
		return goerrors.Errorf("invalid log level: %s. Valid log levels = %v", LogLevel, validLogLevels)
	}
	return nil
}

func IsLogLevelDebugOrBelow() bool {
	return lo.Contains([]string{TRACE, DEBUG}, LogLevel)
}

// Settings carries everything a run needs beyond the job's target triple:
// credentials, engine options and batch tuning.
type Settings struct {
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	Port                   int    `mapstructure:"port"`
	Schema                 string `mapstructure:"schema"`
	OracleDBSid            string `mapstructure:"oracle-db-sid"`
	OracleTNSAlias         string `mapstructure:"oracle-tns-alias"`
	ConnectionTimeout      int    `mapstructure:"connection-timeout"`
	TrustServerCertificate bool   `mapstructure:"trust-server-certificate"`
	BatchSize              int    `mapstructure:"batch-size"`
	ScratchTableThreshold  int    `mapstructure:"scratch-table-threshold"`
	JobStorePath           string `mapstructure:"job-store-path"`
}

const (
	DEFAULT_CONNECTION_TIMEOUT = 30
	DEFAULT_BATCH_SIZE         = 5000
)

func DefaultSettings() Settings {
	return Settings{
		ConnectionTimeout:      DEFAULT_CONNECTION_TIMEOUT,
		TrustServerCertificate: true,
		BatchSize:              DEFAULT_BATCH_SIZE,
	}
}

func (s Settings) Validate() error {
	if s.User == "" {
		return goerrors.Errorf("database user is required")
	}
	if s.BatchSize <= 0 {
		return goerrors.Errorf("batch size must be positive, got %d", s.BatchSize)
	}
	if s.ScratchTableThreshold < 0 {
		return goerrors.Errorf("scratch table threshold must not be negative, got %d", s.ScratchTableThreshold)
	}
	return nil
}
