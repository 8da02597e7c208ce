package observability

import (
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"DEBUG":   "DEBUG",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for input, want := range cases {
		if got := parseLevel(input).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestRedactingWriterMasksSecrets(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bearer", "Authorization: Bearer abcdef1234567890", "[REDACTED]"},
		{"access_token json", `{"access_token":"supersecretvalue12345"}`, "[REDACTED]"},
		{"refresh_token json", `{"refresh_token":"anothersecretvalue789"}`, "[REDACTED]"},
		{"initial key header", "X-Initial-Key: abcd1234efgh5678", "[REDACTED]"},
		{"client secret", `client_secret="s3cr3tvalue1234"`, "[REDACTED]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf fakeWriter
			rw := &redactingWriter{w: &buf}
			if _, err := rw.Write([]byte(tc.input)); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if got := buf.String(); !strings.Contains(got, tc.want) {
				t.Errorf("Write(%q) = %q, want it to contain %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestRedactingWriterPassesThroughPlainText(t *testing.T) {
	var buf fakeWriter
	rw := &redactingWriter{w: &buf}
	msg := `{"level":"info","msg":"agent started","machine_id":"m-123"}`
	if _, err := rw.Write([]byte(msg)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.String() != msg {
		t.Errorf("Write() = %q, want unchanged %q", buf.String(), msg)
	}
}

type fakeWriter struct {
	data []byte
}

func (f *fakeWriter) Write(p []byte) (int, error) {
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *fakeWriter) String() string { return string(f.data) }
