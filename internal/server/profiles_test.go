package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileStore(t *testing.T) {
	store := NewProfileStore()

	_, ok := store.Get("abc")
	assert.False(t, ok)

	store.Put("abc", Profile{Name: "Ana", Avatar: "cat"})
	store.Put("abc", Profile{Name: "Ana B", Avatar: "robot"})

	p, ok := store.Get("abc")
	assert.True(t, ok)
	assert.Equal(t, Profile{Name: "Ana B", Avatar: "robot"}, p)
	assert.Equal(t, 1, store.Len())
}

func TestSettingsUpdate(t *testing.T) {
	s := NewSettings()
	assert.Equal(t, SettingsSnapshot{
		DarkMode:             true,
		SoundEnabled:         true,
		NotificationsEnabled: true,
		FontSize:             "medium",
	}, s.Snapshot())

	assert.True(t, s.Update("darkMode", "false"))
	assert.True(t, s.Update("soundEnabled", "yes"))
	assert.True(t, s.Update("fontSize", "large"))
	assert.False(t, s.Update("volume", "11"))

	got := s.Snapshot()
	assert.False(t, got.DarkMode)
	assert.False(t, got.SoundEnabled)
	assert.True(t, got.NotificationsEnabled)
	assert.Equal(t, "large", got.FontSize)
}
