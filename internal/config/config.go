// Package config holds the touchgrass configuration file schema and its
// load/save machinery. The file lives at <TOUCHGRASS_HOME>/config.json with
// 0600 permissions; reads tolerate JSON5 (comments, trailing commas), writes
// emit strict JSON.
package config

import (
	"sync"
	"time"
)

// Channel types accepted in the channels map.
const (
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
	ChannelInternal = "internal"
)

// Output modes for a chat.
const (
	OutputModeCompact = "compact"
	OutputModeVerbose = "verbose"
)

// Config is the root configuration document.
type Config struct {
	Channels        map[string]ChannelEntry    `json:"channels"`
	Settings        Settings                   `json:"settings"`
	ChatPreferences map[string]ChatPreferences `json:"chatPreferences,omitempty"`
	Telemetry       TelemetryConfig            `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// ChannelEntry is one configured chat account.
type ChannelEntry struct {
	Type         string        `json:"type"` // "telegram", "slack", "internal"
	Credentials  Credentials   `json:"credentials"`
	PairedUsers  []PairedUser  `json:"pairedUsers,omitempty"`
	LinkedGroups []LinkedGroup `json:"linkedGroups,omitempty"`
}

// Credentials holds per-channel secrets and bot identity.
type Credentials struct {
	BotToken     string `json:"botToken,omitempty"`
	AppToken     string `json:"appToken,omitempty"` // slack socket-mode app token
	BotUsername  string `json:"botUsername,omitempty"`
	BotFirstName string `json:"botFirstName,omitempty"`
	BotUserID    string `json:"botUserId,omitempty"`
	TeamID       string `json:"teamId,omitempty"`
	TeamName     string `json:"teamName,omitempty"`
	WebAppURL    string `json:"webAppUrl,omitempty"`
}

// PairedUser is a human approved to drive sessions from this channel.
type PairedUser struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	PairedAt time.Time `json:"pairedAt"`
}

// LinkedGroup is a group or topic chat that executed /link.
type LinkedGroup struct {
	ChatID   string    `json:"chatId"`
	Title    string    `json:"title,omitempty"`
	LinkedAt time.Time `json:"linkedAt"`
}

// Settings are daemon-wide tunables.
type Settings struct {
	OutputBatchMinMs     int    `json:"outputBatchMinMs,omitempty"`
	OutputBatchMaxMs     int    `json:"outputBatchMaxMs,omitempty"`
	OutputBufferMaxChars int    `json:"outputBufferMaxChars,omitempty"`
	MaxSessions          int    `json:"maxSessions,omitempty"`
	DefaultShell         string `json:"defaultShell,omitempty"`
}

// ChatPreferences are per-chat rendering preferences.
type ChatPreferences struct {
	OutputMode string `json:"outputMode,omitempty"` // "compact" or "verbose"
	Thinking   *bool  `json:"thinking,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export for the control server.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Channels: map[string]ChannelEntry{},
		Settings: Settings{
			OutputBatchMinMs:     400,
			OutputBatchMaxMs:     1500,
			OutputBufferMaxChars: 64000,
			MaxSessions:          32,
		},
		ChatPreferences: map[string]ChatPreferences{},
	}
}

// FirstChannelOfType returns the name and entry of the first channel with the
// given type, preferring the bare name "telegram"/"slack" when present.
func (c *Config) FirstChannelOfType(chanType string) (string, ChannelEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.Channels[chanType]; ok && e.Type == chanType {
		return chanType, e, true
	}
	for name, e := range c.Channels {
		if e.Type == chanType {
			return name, e, true
		}
	}
	return "", ChannelEntry{}, false
}

// ChannelEntryByName returns the named channel entry.
func (c *Config) ChannelEntryByName(name string) (ChannelEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.Channels[name]
	return e, ok
}

// SetChannelEntry creates or replaces a named channel entry.
func (c *Config) SetChannelEntry(name string, e ChannelEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Channels == nil {
		c.Channels = map[string]ChannelEntry{}
	}
	c.Channels[name] = e
}

// DeleteChannelEntry removes a named channel entry.
func (c *Config) DeleteChannelEntry(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Channels[name]; !ok {
		return false
	}
	delete(c.Channels, name)
	return true
}

// ChannelNames returns the configured channel names, in map order.
func (c *Config) ChannelNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.Channels))
	for name := range c.Channels {
		names = append(names, name)
	}
	return names
}

// IsPaired reports whether a user id belongs to a paired user of any channel
// of the matching type.
func (c *Config) IsPaired(chanType, userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.Channels {
		if e.Type != chanType {
			continue
		}
		for _, u := range e.PairedUsers {
			if u.UserID == userID {
				return true
			}
		}
	}
	return false
}

// HasPairedUser reports whether any channel has at least one paired user.
func (c *Config) HasPairedUser() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.Channels {
		if len(e.PairedUsers) > 0 {
			return true
		}
	}
	return false
}

// AddPairedUser records a newly paired user under the named channel,
// replacing any stale entry with the same id.
func (c *Config) AddPairedUser(channelName string, u PairedUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.Channels[channelName]
	filtered := e.PairedUsers[:0]
	for _, existing := range e.PairedUsers {
		if existing.UserID != u.UserID {
			filtered = append(filtered, existing)
		}
	}
	e.PairedUsers = append(filtered, u)
	c.Channels[channelName] = e
}

// RemovePairedUser removes a paired user from the named channel.
func (c *Config) RemovePairedUser(channelName, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.Channels[channelName]
	if !ok {
		return false
	}
	removed := false
	kept := e.PairedUsers[:0]
	for _, u := range e.PairedUsers {
		if u.UserID == userID {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	e.PairedUsers = kept
	c.Channels[channelName] = e
	return removed
}

// IsLinkedGroup reports whether the chat id executed /link on some channel.
func (c *Config) IsLinkedGroup(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.Channels {
		for _, g := range e.LinkedGroups {
			if g.ChatID == chatID {
				return true
			}
		}
	}
	return false
}

// LinkGroup records a group link under the named channel. Idempotent.
func (c *Config) LinkGroup(channelName string, g LinkedGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Channels == nil {
		c.Channels = map[string]ChannelEntry{}
	}
	e := c.Channels[channelName]
	for _, existing := range e.LinkedGroups {
		if existing.ChatID == g.ChatID {
			return
		}
	}
	e.LinkedGroups = append(e.LinkedGroups, g)
	c.Channels[channelName] = e
}

// UnlinkGroup removes a group link. Returns true when something was removed.
func (c *Config) UnlinkGroup(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := false
	for name, e := range c.Channels {
		kept := e.LinkedGroups[:0]
		for _, g := range e.LinkedGroups {
			if g.ChatID == chatID {
				removed = true
				continue
			}
			kept = append(kept, g)
		}
		e.LinkedGroups = kept
		c.Channels[name] = e
	}
	return removed
}

// OutputMode returns the chat's output mode, defaulting to compact.
func (c *Config) OutputMode(chatID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.ChatPreferences[chatID]; ok && p.OutputMode != "" {
		return p.OutputMode
	}
	return OutputModeCompact
}

// SetOutputMode updates the chat's output mode.
func (c *Config) SetOutputMode(chatID, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChatPreferences == nil {
		c.ChatPreferences = map[string]ChatPreferences{}
	}
	p := c.ChatPreferences[chatID]
	p.OutputMode = mode
	c.ChatPreferences[chatID] = p
}

// ThinkingEnabled reports whether reasoning output is forwarded to the chat.
// Default is off.
func (c *Config) ThinkingEnabled(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.ChatPreferences[chatID]; ok && p.Thinking != nil {
		return *p.Thinking
	}
	return false
}

// SetThinking toggles reasoning output for a chat.
func (c *Config) SetThinking(chatID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChatPreferences == nil {
		c.ChatPreferences = map[string]ChatPreferences{}
	}
	p := c.ChatPreferences[chatID]
	p.Thinking = &on
	c.ChatPreferences[chatID] = p
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Channels = src.Channels
	c.Settings = src.Settings
	c.ChatPreferences = src.ChatPreferences
	c.Telemetry = src.Telemetry
}
