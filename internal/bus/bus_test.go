package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubjectBuildsPerMachineSubject(t *testing.T) {
	require.Equal(t, "machine.M1.tool-connection", Subject("M1", "tool-connection"))
	require.Equal(t, "machine.M2.installed-agent", Subject("M2", "installed-agent"))
}

func TestConnectionURLEmbedsAndEscapesToken(t *testing.T) {
	m := &Manager{serverHost: "api.example"}
	got := m.connectionURL("a token/with=chars")
	require.Equal(t, "wss://api.example/ws/nats?authorization=a+token%2Fwith%3Dchars", got)
}

func TestPublishRejectsNilConnection(t *testing.T) {
	err := Publish(nil, "machine.M1.tool-connection", map[string]string{"a": "b"})
	require.Error(t, err)
}

func TestIsAuthErrorRecognizesKnownMessages(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("nats: Authorization Violation"), true},
		{errors.New("nats: Auth Expired"), true},
		{errors.New("user authentication expired"), true},
		{errors.New("nats: no responders available for request"), false},
		{errors.New("connection refused"), false},
	}
	for _, tt := range cases {
		got := isAuthError(tt.err)
		if got != tt.want {
			t.Errorf("isAuthError(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSubjectOfNilSubscriptionIsEmpty(t *testing.T) {
	require.Equal(t, "", subjectOf(nil))
}
