package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Role identifies who sent a message.
type Role string

// Known sender roles.
const (
	RolePhone   Role = "phone"
	RoleDesktop Role = "desktop"
	RoleSystem  Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePhone, RoleDesktop, RoleSystem:
		return true
	}
	return false
}

// Message is a single chat message. Messages are never modified once
// published. Name and Avatar are nil when the sender did not supply them.
type Message struct {
	Sender    Role
	Text      string
	Name      *string
	Avatar    *string
	CreatedAt time.Time
}

// NewMessage returns a message from sender stamped with the current time.
func NewMessage(sender Role, text string) Message {
	return Message{
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// wireMessage is the JSON shape pushed to subscribers. Field order is part of
// the format.
type wireMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Avatar *string `json:"avatar,omitempty"`
	Name   *string `json:"name,omitempty"`
}

// MarshalJSON encodes m as {"sender","text","avatar","name"}, omitting avatar
// and name when nil. HTML characters are left unescaped.
func (m Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wireMessage{
		Sender: string(m.Sender),
		Text:   m.Text,
		Avatar: m.Avatar,
		Name:   m.Name,
	}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return err
	}
	if !Role(wm.Sender).Valid() {
		return fmt.Errorf("unknown sender %q", wm.Sender)
	}
	m.Sender = Role(wm.Sender)
	m.Text = wm.Text
	m.Avatar = wm.Avatar
	m.Name = wm.Name
	return nil
}

// DisplayName returns the sender's chosen name, or the capitalized role.
func (m Message) DisplayName() string {
	if m.Name != nil && *m.Name != "" {
		return *m.Name
	}
	role := string(m.Sender)
	if role == "" {
		return ""
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// String renders the message the way the desktop log shows it:
// "[15:04] Phone: hello".
func (m Message) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("15:04"), m.DisplayName(), m.Text)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
