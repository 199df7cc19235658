package config

import (
	"github.com/sirupsen/logrus"
)

// SetupLogger configures the standard logrus logger and returns it
func SetupLogger(cfg *Config) *logrus.Logger {
	logger := logrus.StandardLogger()

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
