package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if l < DEBUG || l > FATAL {
		return "INFO"
	}
	return levelNames[l]
}

// levelColors holds the level and category colours for terminal output.
var levelColors = map[LogLevel][2]*color.Color{
	DEBUG: {color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
	INFO:  {color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
	WARN:  {color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
	ERROR: {color.New(color.FgRed), color.New(color.FgRed, color.Bold)},
	FATAL: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
}

// Fields are structured key/value pairs attached to one entry.
type Fields map[string]string

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	jsonOut  io.Writer
	logFile  *os.File
	minLevel LogLevel
}

// NewLogger logs coloured lines to stdout and JSON lines to
// <dir>/ticket-service-<date>.log.
func NewLogger(dir string, level string) *Logger {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatal("Failed to create logs directory:", err)
	}

	name := filepath.Join(dir, fmt.Sprintf("ticket-service-%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal("Failed to create log file:", err)
	}

	l := &Logger{
		terminal: os.Stdout,
		jsonOut:  logFile,
		logFile:  logFile,
		minLevel: ParseLevel(level),
	}
	l.Info("LOGGER", "Logging to "+name)
	return l
}

// New writes JSON lines to w only. Used by tests and library callers.
func New(w io.Writer) *Logger {
	return &Logger{jsonOut: w, minLevel: DEBUG}
}

// Discard drops every entry.
func Discard() *Logger {
	return New(io.Discard)
}

func ParseLevel(level string) LogLevel {
	for i, name := range levelNames {
		if strings.EqualFold(level, name) && LogLevel(i) != FATAL {
			return LogLevel(i)
		}
	}
	return INFO
}

// write records one entry. skip counts the frames between the public
// method and write so File/Line point at the caller.
func (l *Logger) write(skip int, level LogLevel, category, message string, fields Fields) {
	if level < l.minLevel {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
		Fields:    fields,
	}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		entry.File, entry.Line = filepath.Base(file), line
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminal != nil {
		fmt.Fprintln(l.terminal, renderTerminal(level, entry))
	}
	if l.jsonOut != nil {
		if b, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.jsonOut, string(b))
		}
	}
}

func renderTerminal(level LogLevel, entry LogEntry) string {
	colors := levelColors[level]
	var b strings.Builder

	b.WriteString(color.New(color.FgBlue).Sprint(entry.Timestamp[11:19]))
	b.WriteString(" " + colors[0].Sprintf("%-5s", entry.Level))
	b.WriteString(" " + colors[1].Sprintf("[%-10s]", entry.Category))
	b.WriteString(" " + entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" " + color.New(color.Faint).Sprintf("%s=%s", k, entry.Fields[k]))
	}

	if entry.File != "" {
		b.WriteString(color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line))
	}
	return b.String()
}

func (l *Logger) Debug(category, message string) { l.write(1, DEBUG, category, message, nil) }
func (l *Logger) Info(category, message string)  { l.write(1, INFO, category, message, nil) }
func (l *Logger) Warn(category, message string)  { l.write(1, WARN, category, message, nil) }
func (l *Logger) Error(category, message string) { l.write(1, ERROR, category, message, nil) }

func (l *Logger) Fatal(category, message string) {
	l.write(1, FATAL, category, message, nil)
	l.Close()
	os.Exit(1)
}

// With logs at level with structured fields.
func (l *Logger) With(level LogLevel, category, message string, fields Fields) {
	l.write(1, level, category, message, fields)
}

func (l *Logger) LogTicket(action, ticketID, message string) {
	l.write(1, INFO, "TICKET", message, Fields{"action": action, "ticket_id": ticketID})
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.write(1, INFO, "API", method+" "+path, Fields{"status": status, "duration": duration})
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.write(1, INFO, "KAFKA", message, Fields{"action": action, "topic": topic})
}

// LogProcess records progress of a background job.
func (l *Logger) LogProcess(process, message string) {
	l.write(1, INFO, "PROCESS", message, Fields{"process": process})
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.write(1, INFO, "DATABASE", message, Fields{"operation": operation, "table": table})
}

// LogSecurity records rejected credentials and forged payloads at WARN.
func (l *Logger) LogSecurity(event, message string) {
	l.write(1, WARN, "SECURITY", message, Fields{"event": event})
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
		l.jsonOut = nil
	}
}
