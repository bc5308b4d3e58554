package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

// TestMessageMarshalJSON tests the wire shape of a message.
// It verifies field order, omission of empty optional fields, and escaping.
func TestMessageMarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "text only",
			msg:  Message{Sender: RolePhone, Text: "hi"},
			want: `{"sender":"phone","text":"hi"}`,
		},
		{
			name: "all fields",
			msg:  Message{Sender: RoleDesktop, Text: "yo", Avatar: ptr("cat"), Name: ptr("Sam")},
			want: `{"sender":"desktop","text":"yo","avatar":"cat","name":"Sam"}`,
		},
		{
			name: "name without avatar",
			msg:  Message{Sender: RolePhone, Text: "x", Name: ptr("Ana")},
			want: `{"sender":"phone","text":"x","name":"Ana"}`,
		},
		{
			name: "present but empty",
			msg:  Message{Sender: RolePhone, Text: "x", Avatar: ptr(""), Name: ptr("")},
			want: `{"sender":"phone","text":"x","avatar":"","name":""}`,
		},
		{
			name: "quotes and backslashes",
			msg:  Message{Sender: RolePhone, Text: `say "hi" \o/`},
			want: `{"sender":"phone","text":"say \"hi\" \\o/"}`,
		},
		{
			name: "control characters",
			msg:  Message{Sender: RolePhone, Text: "line1\nline2\ttab\x01"},
			want: `{"sender":"phone","text":"line1\nline2\ttab\u0001"}`,
		},
		{
			name: "html is left alone",
			msg:  Message{Sender: RolePhone, Text: "<b>&</b>"},
			want: `{"sender":"phone","text":"<b>&</b>"}`,
		},
		{
			name: "unicode",
			msg:  Message{Sender: RoleSystem, Text: "héllo 👋"},
			want: `{"sender":"system","text":"héllo 👋"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.msg.MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

// TestMessageRoundTrip tests that a generic JSON decoder recovers every field.
func TestMessageRoundTrip(t *testing.T) {
	original := Message{Sender: RolePhone, Text: "a \"quoted\"\nline", Avatar: ptr("robot"), Name: ptr("Lee")}

	data, err := original.MarshalJSON()
	require.NoError(t, err)

	var generic map[string]string
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, map[string]string{
		"sender": "phone",
		"text":   "a \"quoted\"\nline",
		"avatar": "robot",
		"name":   "Lee",
	}, generic)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

// TestMessageUnmarshalRejectsUnknownSender tests sender validation on decode.
func TestMessageUnmarshalRejectsUnknownSender(t *testing.T) {
	var m Message
	assert.Error(t, json.Unmarshal([]byte(`{"sender":"toaster","text":"hi"}`), &m))
}

// TestMessageString tests the log line format.
func TestMessageString(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	tests := []struct {
		msg  Message
		want string
	}{
		{Message{Sender: RolePhone, Text: "hi", CreatedAt: at}, "[14:05] Phone: hi"},
		{Message{Sender: RoleDesktop, Text: "yo", Name: ptr("Sam"), CreatedAt: at}, "[14:05] Sam: yo"},
		{Message{Sender: RolePhone, Text: "yo", Name: ptr(""), CreatedAt: at}, "[14:05] Phone: yo"},
		{Message{Sender: RoleSystem, Text: "Desktop connected", CreatedAt: at}, "[14:05] System: Desktop connected"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.msg.String())
	}
}

// TestIsExpectedCloseError tests classification of connection teardown errors.
func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(io.EOF))
	assert.True(t, isExpectedCloseError(net.ErrClosed))
	assert.True(t, isExpectedCloseError(errors.New("write: broken pipe")))
	assert.True(t, isExpectedCloseError(errors.New("read: connection reset by peer")))
	assert.False(t, isExpectedCloseError(errors.New("disk on fire")))
}
