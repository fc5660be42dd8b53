// Package gelf ships zap JSON log entries to a GELF UDP input.
package gelf

import (
	"encoding/json"
	"net"
	"os"
	"strings"
	"time"
)

// Writer sends one GELF message per zap JSON entry over UDP.
// It implements zapcore.WriteSyncer so it can be teed next to the console core.
type Writer struct {
	conn     net.Conn
	hostname string
	service  string
	now      func() time.Time
}

// New creates a GELF UDP writer connected to addr (e.g. "172.17.0.1:12201").
func New(addr, service string) (*Writer, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = service
	}

	return &Writer{conn: conn, hostname: hostname, service: service, now: time.Now}, nil
}

// syslog severities keyed by zap level names.
var levels = map[string]int{
	"debug":  7,
	"info":   6,
	"warn":   4,
	"error":  3,
	"dpanic": 2,
	"panic":  2,
	"fatal":  2,
}

// Write converts a zap JSON line into a GELF message. Lines that are not JSON
// are sent verbatim as short_message at informational level.
func (w *Writer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")

	msg := map[string]any{
		"version":  "1.1",
		"host":     w.hostname,
		"level":    6,
		"_service": w.service,
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		msg["short_message"] = line
		msg["timestamp"] = float64(w.now().UnixNano()) / 1e9
	} else {
		msg["short_message"] = entry["msg"]
		if lvl, ok := entry["level"].(string); ok {
			if sev, known := levels[lvl]; known {
				msg["level"] = sev
			}
		}
		if ts, ok := entry["ts"].(float64); ok {
			msg["timestamp"] = ts
		} else {
			msg["timestamp"] = float64(w.now().UnixNano()) / 1e9
		}
		for k, v := range entry {
			switch k {
			case "msg", "level", "ts":
				continue
			case "id":
				// GELF reserves _id.
				k = "entry_id"
			}
			msg["_"+k] = v
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return len(p), nil // don't fail the log call
	}

	// Fire-and-forget
	_, _ = w.conn.Write(payload)
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer; UDP has nothing to flush.
func (w *Writer) Sync() error { return nil }

// Close closes the UDP socket.
func (w *Writer) Close() error { return w.conn.Close() }
