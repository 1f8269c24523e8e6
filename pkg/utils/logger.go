// Package utils содержит конструктор логгера приложения.
package utils

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLogger создает настроенный logrus-логгер. format "json" дает
// JSON-вывод, любое другое значение — текстовый. Неизвестный уровень
// падает обратно в info.
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	return logger
}
