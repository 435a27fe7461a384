// Package logger provides centralized logging using arbor.
package logger

import (
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/imjszhang/wiseflow/internal/config"
	"github.com/imjszhang/wiseflow/internal/fileutil"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance. If Setup has not been called
// a console-only fallback is returned.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, ""))
	}
	return globalLogger
}

// Setup configures the global logger from configuration. The rotating agent
// log lives at <ckpt>/agent.log.
func Setup(cfg *config.Config) arbor.ILogger {
	log := arbor.NewLogger()

	if err := fileutil.EnsureDir(cfg.Agent.CkptDir); err == nil {
		logFile := filepath.Join(cfg.Agent.CkptDir, "agent.log")
		log = log.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, logFile))
	}
	log = log.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
	log = log.WithLevelFromString(cfg.Logging.Level)

	loggerMutex.Lock()
	globalLogger = log
	loggerMutex.Unlock()

	return log
}

// writerConfig builds a writer configuration with the agent's rotation
// policy applied to file writers.
func writerConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	maxSizeMB := 5
	maxBackups := 3
	if cfg != nil {
		if cfg.Logging.MaxSizeMB > 0 {
			maxSizeMB = cfg.Logging.MaxSizeMB
		}
		if cfg.Logging.MaxBackups > 0 {
			maxBackups = cfg.Logging.MaxBackups
		}
	}

	return models.WriterConfiguration{
		Type:       writerType,
		FileName:   filename,
		TimeFormat: "15:04:05.000",
		MaxSize:    int64(maxSizeMB) * 1024 * 1024,
		MaxBackups: maxBackups,
	}
}

// Stop flushes pending log writes before shutdown. Safe to call repeatedly.
func Stop() {
	arborcommon.Stop()
}
