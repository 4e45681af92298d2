// Package logx provides the level-gated logger used across the relay and
// client driver.
package logx

import (
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelError Level = iota
	LevelInfo
	LevelDebug
)

var current = LevelInfo

// Init sets the active log level from the LOG_LEVEL environment variable
// ("debug", "info", or "error"; defaults to "info").
func Init() {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		current = LevelDebug
	case "error":
		current = LevelError
	default:
		current = LevelInfo
	}
}

func Debug(format string, v ...interface{}) {
	if current >= LevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if current >= LevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

// Error always logs, regardless of the configured level.
func Error(format string, v ...interface{}) {
	log.Printf("[ERROR] "+format, v...)
}
