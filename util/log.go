package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	jww "github.com/spf13/jwalterweatherman"
)

var (
	loggers = map[string]*Logger{}
	levels  = map[string]jww.Threshold{}

	// OutThreshold is the default console log level
	OutThreshold = jww.LevelError
)

// RedactReplacement is the substitute for redacted secrets
const RedactReplacement = "***REDACTED***"

// Logger wraps a jww notepad to avoid leaking implementation detail
type Logger struct {
	*jww.Notepad
	name     string
	redactor *redactor
}

// NewLogger creates a logger with the given log area and adds it to the registry
func NewLogger(area string) *Logger {
	if logger, ok := loggers[area]; ok {
		return logger
	}

	level := LogLevelForArea(area)
	redactor := &redactor{w: os.Stderr}
	notepad := jww.NewNotepad(level, level, redactor, io.Discard, area, log.Ldate|log.Ltime)

	logger := &Logger{
		Notepad:  notepad,
		name:     area,
		redactor: redactor,
	}
	loggers[area] = logger

	return logger
}

// Redact adds items to the list of secrets redacted from this logger's output
func (l *Logger) Redact(items ...string) *Logger {
	l.redactor.add(items...)
	return l
}

// Name returns the loggers name
func (l *Logger) Name() string {
	return l.name
}

// LogLevelForArea gets the log level for given log area
func LogLevelForArea(area string) jww.Threshold {
	level, ok := levels[strings.ToLower(area)]
	if !ok {
		level = OutThreshold
	}
	return level
}

// LogLevel sets log level for all loggers
func LogLevel(defaultLevel string, areaLevels map[string]string) {
	OutThreshold = LogLevelToThreshold(defaultLevel)

	for area, level := range areaLevels {
		levels[strings.ToLower(area)] = LogLevelToThreshold(level)
	}

	for area, logger := range loggers {
		logger.SetStdoutThreshold(LogLevelForArea(area))
	}
}

// LogLevelToThreshold converts log level string to a jww Threshold
func LogLevelToThreshold(level string) jww.Threshold {
	switch strings.ToUpper(level) {
	case "FATAL":
		return jww.LevelFatal
	case "ERROR":
		return jww.LevelError
	case "WARN":
		return jww.LevelWarn
	case "INFO":
		return jww.LevelInfo
	case "DEBUG":
		return jww.LevelDebug
	case "TRACE":
		return jww.LevelTrace
	default:
		panic("invalid log level " + level)
	}
}

// LogAreas returns the sorted list of registered log areas
func LogAreas() []string {
	var areas []string
	for k := range loggers {
		areas = append(areas, k)
	}
	sort.Strings(areas)
	return areas
}

// redactor replaces secrets in the log output before they hit the sink
type redactor struct {
	w       io.Writer
	secrets []string
}

func (r *redactor) add(items ...string) {
	for _, s := range items {
		if s != "" {
			r.secrets = append(r.secrets, s)
		}
	}
}

func (r *redactor) Write(p []byte) (int, error) {
	s := string(p)
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, RedactReplacement)
	}

	_, err := r.w.Write([]byte(s))

	// pretend the full input was written to keep the log.Logger happy
	return len(p), err
}

// Redacted formats a secret value for logging without revealing it
func Redacted(label string) string {
	return fmt.Sprintf("%s [****REDACTED****]", label)
}
