package controlplane

import (
	"sync"
	"time"

	"duplexkit/core"
	"duplexkit/protocol"
)

// WSLogWriter is a core.LogWriter that streams one session's log to the
// control plane. Entries below minLevel are skipped; every entry carries the
// session's transport. Writes after Close are dropped.
type WSLogWriter struct {
	client   *Client
	meta     core.SessionMetadata
	minLevel core.Level

	mu     sync.Mutex
	lines  int
	closed bool
}

func NewWSLogWriter(client *Client, meta core.SessionMetadata, minLevel core.Level) *WSLogWriter {
	return &WSLogWriter{client: client, meta: meta, minLevel: minLevel}
}

func (w *WSLogWriter) Write(level, msg string, attrs map[string]interface{}) {
	if lvl, err := core.ParseLevel(level); err == nil && lvl < w.minLevel {
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.lines++
	w.mu.Unlock()

	if w.meta.Transport != "" {
		tagged := make(map[string]interface{}, len(attrs)+1)
		for k, v := range attrs {
			tagged[k] = v
		}
		tagged["transport"] = w.meta.Transport
		attrs = tagged
	}
	attrs = core.StringifyErrors(attrs)
	w.client.SendLog(w.meta.SessionID, protocol.LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     attrs,
	})
}

// Close ends the stream with the number of entries sent.
func (w *WSLogWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	lines := w.lines
	w.mu.Unlock()

	w.client.SendLogEnd(w.meta.SessionID, lines)
}
