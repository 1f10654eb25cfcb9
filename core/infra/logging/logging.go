package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

var debugEnabled = func() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_DEBUG"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}()

// Info logs a message with key/value fields under an uppercased component tag.
func Info(component, msg string, kv ...interface{}) {
	emit(component, "", msg, kv...)
}

// Warn logs a warning with key/value fields.
func Warn(component, msg string, kv ...interface{}) {
	emit(component, "WARN ", msg, kv...)
}

// Error logs an error with key/value fields.
func Error(component, msg string, kv ...interface{}) {
	emit(component, "ERROR ", msg, kv...)
}

// Debug logs only when LOG_DEBUG is set in the environment.
func Debug(component, msg string, kv ...interface{}) {
	if !debugEnabled {
		return
	}
	emit(component, "DEBUG ", msg, kv...)
}

func emit(component, level, msg string, kv ...interface{}) {
	log.Printf("[%s] %s%s%s", strings.ToUpper(component), level, msg, formatFields(kv...))
}

func formatFields(kv ...interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(render(kv[i])))
		b.WriteString("=")
		b.WriteString(render(kv[i+1]))
	}
	return b.String()
}

func render(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprintf("%v", v)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}
