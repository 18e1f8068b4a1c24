package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor scrubs credentials from log lines before they reach a sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering the gateway shared secret and
// common bearer credentials.
func NewRedactor() *Redactor {
	return &Redactor{
		// A value may not start with a separator, so an empty value is left
		// alone instead of the separator being taken for it.
		patterns: []*regexp.Regexp{
			// X-Parley-Secret header values
			regexp.MustCompile(`(?i)(x-parley-secret["\s:=]+)[^\s",}:=][^\s",}]*`),
			// shared_secret in dumped config
			regexp.MustCompile(`(shared_secret["\s:=]+)[^\s",}:=][^\s",}]*`),
			regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9._~+/=-]+`),
			regexp.MustCompile(`((?:password|pwd)["\s:=]+)[^\s",}:=][^\s",}]*`),
			regexp.MustCompile(`(token["\s:=]+)[a-zA-Z0-9._-]{20,}`),
		},
	}
}

// AddPattern adds a custom redaction pattern. When the pattern has a
// capture group the first group is kept and the rest is replaced.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		if pattern.NumSubexp() > 0 {
			result = pattern.ReplaceAllString(result, "${1}"+redacted)
			continue
		}
		result = pattern.ReplaceAllString(result, redacted)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
