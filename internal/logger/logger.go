package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"roaddamage/internal/config"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to rotating files and stdout/stderr.
type Logger struct {
	infoLog    *logrus.Logger
	warningLog *logrus.Logger
	errorLog   *logrus.Logger
	files      map[string]*lumberjack.Logger
	logDir     string
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	logger := &Logger{
		logDir: config.LogDirectory,
		files:  make(map[string]*lumberjack.Logger),
	}

	logger.setupLoggers(config.LogLevel)
	return logger
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers(level string) {
	infoWriter := io.MultiWriter(os.Stdout, l.openLogFile(InfoFile))
	warningWriter := io.MultiWriter(os.Stdout, l.openLogFile(WarningFile))
	errorWriter := io.MultiWriter(os.Stderr, l.openLogFile(ErrorFile))

	infoLevel, err := logrus.ParseLevel(level)
	if err != nil {
		infoLevel = logrus.InfoLevel
	}

	l.infoLog = newLevelLogger(infoWriter, infoLevel)
	l.warningLog = newLevelLogger(warningWriter, logrus.WarnLevel)
	l.errorLog = newLevelLogger(errorWriter, logrus.ErrorLevel)
}

func newLevelLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(w)
	lg.SetLevel(level)
	lg.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	return lg
}

// openLogFile returns a rotating writer for a log file in the log directory.
func (l *Logger) openLogFile(name string) *lumberjack.Logger {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    50,
		MaxBackups: 3,
		Compress:   true,
	}
	l.files[name] = file
	return file
}

// Debug writes a formatted debug-level entry into the info log.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Errorf(format, v...)
}

// WithFields returns an info-level entry carrying structured fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.infoLog.WithFields(fields)
}

// CleanLogs truncates the specified log file. The rotating writer is closed first so it
// reopens the emptied file, with a fresh size, on its next write.
func (l *Logger) CleanLogs(fileName string) {
	if err := l.truncate(fileName); err != nil {
		l.Error("Error clearing file: %v", err)
		return
	}
	l.Info("File %s has been cleared.", fileName)
}

func (l *Logger) truncate(fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if file, ok := l.files[fileName]; ok {
		if err := file.Close(); err != nil {
			return err
		}
	}
	return os.Truncate(filepath.Join(l.logDir, fileName), 0)
}

// Close flushes and closes all log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
