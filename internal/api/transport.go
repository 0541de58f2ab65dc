// Package api provides the download engine's outbound HTTP transport: a
// RoundTripper that dumps request/response headers to a log file for
// diagnosability, rewritten to redact credentials before anything
// touches disk so tokens never leak into logs.
package api

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var redactedQueryParams = map[string]bool{
	"token":        true,
	"api_key":      true,
	"access_token": true,
	"key":          true,
}

// RedactingTransport wraps an http.RoundTripper, logging header-only
// request/response dumps with Authorization headers and credential query
// parameters stripped before they are ever written to the log file.
// Response bodies are never logged: model artifacts are large binary
// streams, not diagnostic payloads.
type RedactingTransport struct {
	Transport http.RoundTripper

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewRedactingTransport opens logFilePath for appending and wraps
// transport (or http.DefaultTransport if nil).
func NewRedactingTransport(transport http.RoundTripper, logFilePath string) (*RedactingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transport log file %s: %w", logFilePath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	return &RedactingTransport{
		Transport: transport,
		file:      f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip performs the request and logs a redacted header dump of both
// sides.
func (t *RedactingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()

	reqDump, err := httputil.DumpRequestOut(cloneForDump(req), false)
	if err != nil {
		log.WithError(err).Error("failed to dump outbound request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s\n", start.Format(time.RFC3339), redact(string(reqDump))))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (%s, duration %v) ---\n%s\n", time.Now().Format(time.RFC3339), duration, err.Error()))
		return resp, err
	}

	respDump, dumpErr := httputil.DumpResponse(resp, false)
	if dumpErr != nil {
		log.WithError(dumpErr).Error("failed to dump response headers for logging")
		t.writeLog(fmt.Sprintf("--- Response Headers (%s, duration %v) ---\nStatus: %s\n(failed to dump headers)\n", time.Now().Format(time.RFC3339), duration, resp.Status))
	} else {
		t.writeLog(fmt.Sprintf("--- Response Headers (%s, duration %v) ---\n%s\n", time.Now().Format(time.RFC3339), duration, redact(string(respDump))))
	}

	return resp, err
}

// cloneForDump returns a clone of req with its URL's credential
// query parameters stripped, so DumpRequestOut never sees the raw token
// even transiently.
func cloneForDump(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if clone.URL != nil {
		u := *clone.URL
		q := u.Query()
		for param := range q {
			if redactedQueryParams[strings.ToLower(param)] {
				q.Set(param, "REDACTED")
			}
		}
		u.RawQuery = q.Encode()
		clone.URL = &u
	}
	return clone
}

// redact strips the Authorization header's value out of a dumped
// request/response text block.
func redact(dump string) string {
	lines := strings.Split(dump, "\r\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "authorization:") {
			lines[i] = "Authorization: REDACTED"
		}
	}
	return strings.Join(lines, "\r\n")
}

// writeLog appends a block to the buffered log writer.
func (t *RedactingTransport) writeLog(block string) {
	if _, err := t.writer.WriteString(block + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "error writing transport log: %v\n", err)
	}
	_ = t.writer.Flush()
}

// Close flushes and closes the underlying log file.
func (t *RedactingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	flushErr := t.writer.Flush()
	closeErr := t.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush transport log: %w", flushErr)
	}
	return closeErr
}
