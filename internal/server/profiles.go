package server

import "sync"

// Profile is a phone user's chosen display name and avatar.
type Profile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ProfileStore keeps profiles by browser session id.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewProfileStore returns an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]Profile)}
}

// Put stores p for sessionID, replacing any previous profile.
func (s *ProfileStore) Put(sessionID string, p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[sessionID] = p
}

// Get returns the profile for sessionID.
func (s *ProfileStore) Get(sessionID string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[sessionID]
	return p, ok
}

// Len returns the number of stored profiles.
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// SettingsSnapshot is a copy of the current UI settings.
type SettingsSnapshot struct {
	DarkMode             bool   `json:"darkMode"`
	SoundEnabled         bool   `json:"soundEnabled"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	FontSize             string `json:"fontSize"`
}

// Settings holds the shared UI preferences.
type Settings struct {
	mu      sync.RWMutex
	current SettingsSnapshot
}

// NewSettings returns settings with everything enabled and a medium font.
func NewSettings() *Settings {
	return &Settings{current: SettingsSnapshot{
		DarkMode:             true,
		SoundEnabled:         true,
		NotificationsEnabled: true,
		FontSize:             "medium",
	}}
}

// Update applies value to the named setting. Boolean settings are true only
// for the value "true". It reports whether the name was recognized; unknown
// names are ignored.
func (s *Settings) Update(name, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "darkMode":
		s.current.DarkMode = value == "true"
	case "soundEnabled":
		s.current.SoundEnabled = value == "true"
	case "notificationsEnabled":
		s.current.NotificationsEnabled = value == "true"
	case "fontSize":
		s.current.FontSize = value
	default:
		return false
	}
	return true
}

// Snapshot returns a copy of the current settings.
func (s *Settings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
