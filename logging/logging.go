// Package logging builds the shared logrus logger for the service.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// NewLogger returns the process-wide logger. Debug level when DEBUG is
// set, with rotated file output outside of tests.
func NewLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()

		level := logrus.InfoLevel
		if os.Getenv("DEBUG") == "true" {
			level = logrus.DebugLevel
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
		})

		writers := []io.Writer{os.Stderr}
		if os.Getenv("APP_ENV") != "test" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   fmt.Sprintf("./storage/logs/app-%s.log", time.Now().Format("2006-01-02")),
				LocalTime:  true,
				Compress:   true,
				MaxSize:    100,
				MaxAge:     7,
				MaxBackups: 3,
			})
		}
		logger.SetOutput(io.MultiWriter(writers...))
	})

	return logger
}
