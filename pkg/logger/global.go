package logger

import (
	"os"
	"sync"
)

var (
	globalLogger *Logger
	mu           sync.RWMutex
)

// GetLogger returns the global logger, creating it from the environment on first use
func GetLogger() *Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger = New(Config{
			Level:  levelFromEnv(),
			Format: "json",
			Output: "stdout",
		})
	}
	return globalLogger
}

func levelFromEnv() string {
	if os.Getenv("DEBUG") == "true" {
		return "debug"
	}
	for _, key := range []string{"KWENRICH_LOG_LEVEL", "LOG_LEVEL"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "warn"
}

// SetLogger replaces the global logger. Components capture child loggers at
// construction, so call it before building them.
func SetLogger(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = logger
}

// Init configures the global logger from config
func Init(config Config) *Logger {
	if config.Level == "" {
		config.Level = levelFromEnv()
	}
	l := New(config)
	SetLogger(l)
	SetGlobalLogger(l)
	return l
}

func Debug(msg string) {
	GetLogger().Debug(msg)
}

func Info(msg string) {
	GetLogger().Info(msg)
}

func Warn(msg string) {
	GetLogger().Warn(msg)
}

func Error(msg string) {
	GetLogger().Error(msg)
}

func Fatal(msg string) {
	GetLogger().Fatal(msg)
}

func WithField(key string, value interface{}) *Logger {
	return GetLogger().WithField(key, value)
}

func WithFields(fields map[string]interface{}) *Logger {
	return GetLogger().WithFields(fields)
}

func WithError(err error) *Logger {
	return GetLogger().WithError(err)
}
