// Package render highlights tailed log lines for the terminal.
package render

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// Format is the detected shape of a log line.
type Format int

const (
	FormatPlain Format = iota
	FormatJSON
	FormatLogfmt
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatLogfmt:
		return "logfmt"
	default:
		return "plain"
	}
}

var levelKeys = []string{"level", "severity", "log_level", "lvl"}

var levelPattern = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN(?:ING)?|ERROR|ERR|FATAL|CRITICAL|PANIC)\b`)

// Detect returns the format of a single line.
func Detect(line string) Format {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return FormatPlain
	}
	if trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}' {
		return FormatJSON
	}
	if len(logfmtPairs(trimmed)) >= 2 {
		return FormatLogfmt
	}
	return FormatPlain
}

// Level extracts and normalizes the severity of a line. It returns "" when
// the line carries no recognizable level.
func Level(line string) string {
	trimmed := strings.TrimSpace(line)
	switch Detect(trimmed) {
	case FormatJSON:
		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			pairs := make(map[string]string, len(fields))
			for k, v := range fields {
				if s, ok := v.(string); ok {
					pairs[k] = s
				}
			}
			return levelOf(pairs)
		}
	case FormatLogfmt:
		return levelOf(logfmtPairs(trimmed))
	}
	if m := levelPattern.FindString(trimmed); m != "" {
		return normalizeLevel(m)
	}
	return ""
}

// levelOf returns the first level key found, in levelKeys order.
func levelOf(fields map[string]string) string {
	for _, key := range levelKeys {
		for k, v := range fields {
			if strings.EqualFold(k, key) {
				return normalizeLevel(v)
			}
		}
	}
	return ""
}

func normalizeLevel(level string) string {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "warning":
		return "warn"
	case "err":
		return "error"
	case "critical", "panic":
		return "fatal"
	default:
		return l
	}
}

// logfmtPairs parses key=value pairs, with optional double-quoted values.
// Parsing stops at the first token that is not a pair.
func logfmtPairs(line string) map[string]string {
	pairs := make(map[string]string)
	i := 0
	for i < len(line) {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		start := i
		for i < len(line) && line[i] != '=' && line[i] != ' ' {
			i++
		}
		if i >= len(line) || line[i] != '=' || i == start {
			break
		}
		key := line[start:i]
		i++

		var value string
		if i < len(line) && line[i] == '"' {
			i++
			vstart := i
			for i < len(line) && line[i] != '"' {
				if line[i] == '\\' {
					i++
				}
				i++
			}
			if i > len(line) {
				i = len(line)
			}
			value = line[vstart:i]
			if i < len(line) {
				i++
			}
		} else {
			vstart := i
			for i < len(line) && line[i] != ' ' {
				i++
			}
			value = line[vstart:i]
		}
		pairs[key] = value
	}
	return pairs
}
