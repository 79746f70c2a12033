package logx

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

type formatPart struct {
	literal string
	varName string
}

type AccessLogFormatter struct {
	parts []formatPart
}

const defaultAccessLogFormat = "$time_local | $status | $latency | $client_ip | $method $path | request_id=$request_id"

var accessLogFormatPresets = map[string]string{
	"toolbox_combined": "$time_local | $status | $latency | $client_ip | $method $path | request_id=$request_id server_id=$server_id deployment=$deployment hostname=$hostname host_port=$host_port route_status=$route_status error=$error",
	"toolbox_minimal":  "$time_local | $status | $latency | $method $path | request_id=$request_id",
}

var allowedAccessLogVars = map[string]struct{}{
	"time_local":   {},
	"status":       {},
	"latency":      {},
	"latency_ms":   {},
	"client_ip":    {},
	"method":       {},
	"path":         {},
	"request_id":   {},
	"server_id":    {},
	"deployment":   {},
	"hostname":     {},
	"host_port":    {},
	"route_status": {},
	"error":        {},
}

func ResolveAccessLogFormat(format string, preset string) (string, error) {
	if strings.TrimSpace(format) != "" {
		return format, nil
	}
	p := strings.ToLower(strings.TrimSpace(preset))
	if p == "" {
		return "", nil
	}
	out, ok := accessLogFormatPresets[p]
	if !ok {
		return "", fmt.Errorf("invalid access_log_format_preset: %q", preset)
	}
	return out, nil
}

// CompileAccessLogFormat parses a "$var" line template. "$$" is a literal
// dollar sign. An empty format selects the built-in default.
func CompileAccessLogFormat(format string) (*AccessLogFormatter, error) {
	if strings.TrimSpace(format) == "" {
		format = defaultAccessLogFormat
	}
	parts := make([]formatPart, 0, 8)
	var lit strings.Builder

	flushLiteral := func() {
		if lit.Len() == 0 {
			return
		}
		parts = append(parts, formatPart{literal: lit.String()})
		lit.Reset()
	}

	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '$' {
			lit.WriteByte(ch)
			continue
		}
		if i+1 < len(format) && format[i+1] == '$' {
			lit.WriteByte('$')
			i++
			continue
		}
		flushLiteral()
		j := i + 1
		for j < len(format) {
			r := rune(format[j])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				break
			}
			j++
		}
		if j == i+1 {
			return nil, fmt.Errorf("invalid access_log_format: missing variable name after '$' at pos %d", i)
		}
		name := format[i+1 : j]
		if _, ok := allowedAccessLogVars[name]; !ok {
			return nil, fmt.Errorf("invalid access_log_format: unknown variable $%s", name)
		}
		parts = append(parts, formatPart{varName: name})
		i = j - 1
	}
	flushLiteral()
	return &AccessLogFormatter{parts: parts}, nil
}

// AccessRecord is one finished HTTP request.
type AccessRecord struct {
	Time     time.Time
	Status   int
	Latency  time.Duration
	ClientIP string
	Method   string
	Path     string
	Fields   map[string]any
}

// Format renders rec; unset variables print as "-".
func (f *AccessLogFormatter) Format(rec AccessRecord, color bool) string {
	if f == nil || len(f.parts) == 0 {
		return ""
	}
	vars := map[string]string{
		"time_local": rec.Time.Format("2006/01/02 - 15:04:05"),
		"status":     ColorizeStatusWith(rec.Status, color),
		"latency":    rec.Latency.String(),
		"latency_ms": fmt.Sprintf("%d", rec.Latency.Milliseconds()),
		"client_ip":  strings.TrimSpace(rec.ClientIP),
		"method":     strings.TrimSpace(rec.Method),
		"path":       rec.Path,
	}
	for k, v := range rec.Fields {
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s == "" || s == "<nil>" {
			continue
		}
		vars[k] = s
	}

	var b strings.Builder
	for _, p := range f.parts {
		if p.literal != "" {
			b.WriteString(p.literal)
			continue
		}
		v := strings.TrimSpace(vars[p.varName])
		if v == "" {
			b.WriteByte('-')
			continue
		}
		b.WriteString(v)
	}
	return b.String()
}

func AccessLogAllowedVars() []string {
	keys := make([]string, 0, len(allowedAccessLogVars))
	for k := range allowedAccessLogVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
