package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/touchgrasshq/touchgrass/internal/address"
	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/channel/telegram"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/home"
)

// Registry owns the live channel adapters, keyed by config entry name. It is
// the output.Resolver the pipeline and router use to reach a chat.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]channel.Channel
	firstOf  map[string]string // channel type → first entry name
	log      *slog.Logger
	receiving bool
}

// NewRegistry builds adapters for every configured channel with credentials.
// Entries it cannot build are logged and skipped; a daemon with zero channels
// still serves wrappers (output just has nowhere to go).
func NewRegistry(cfg *config.Config, paths home.Paths, log *slog.Logger) *Registry {
	r := &Registry{
		byName:  make(map[string]channel.Channel),
		firstOf: make(map[string]string),
		log:     log,
	}
	for _, name := range cfg.ChannelNames() {
		entry, ok := cfg.ChannelEntryByName(name)
		if !ok {
			continue
		}
		ch, err := r.build(name, entry, paths)
		if err != nil {
			log.Warn("channel skipped", "name", name, "error", err)
			continue
		}
		if ch == nil {
			continue
		}
		r.byName[name] = ch
		if _, ok := r.firstOf[entry.Type]; !ok {
			r.firstOf[entry.Type] = name
		}
	}
	return r
}

func (r *Registry) build(name string, entry config.ChannelEntry, paths home.Paths) (channel.Channel, error) {
	switch entry.Type {
	case config.ChannelTelegram:
		if entry.Credentials.BotToken == "" {
			return nil, fmt.Errorf("no bot token")
		}
		accountName := name
		if name == config.ChannelTelegram {
			// the bare entry addresses chats as telegram:<id>
			accountName = ""
		}
		return telegram.New(telegram.Options{
			Name:        accountName,
			Token:       entry.Credentials.BotToken,
			UploadsDir:  paths.UploadsDir,
			LockDir:     paths.Root,
			WebAppURL:   entry.Credentials.WebAppURL,
			BotUsername: entry.Credentials.BotUsername,
		}, r.log)
	case config.ChannelSlack, config.ChannelInternal:
		// accepted in config for forward compatibility, no adapter yet
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", entry.Type)
	}
}

// ChannelFor resolves a chat or user address to the adapter that owns it.
func (r *Registry) ChannelFor(chatID string) (channel.Channel, bool) {
	addr, err := address.Parse(chatID)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if addr.ChannelName != "" {
		ch, ok := r.byName[addr.ChannelName]
		return ch, ok
	}
	if name, ok := r.firstOf[addr.Type]; ok {
		return r.byName[name], true
	}
	ch, ok := r.byName[addr.Type]
	return ch, ok
}

// All returns every live adapter.
func (r *Registry) All() []channel.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]channel.Channel, 0, len(r.byName))
	for _, ch := range r.byName {
		out = append(out, ch)
	}
	return out
}

// Count reports the number of live adapters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Start wires callbacks and begins each adapter's inbound long-poll.
func (r *Registry) Start(ctx context.Context, onMessage func(channel.InboundMessage), onPollAnswer func(channel.PollAnswer), onDeadChat func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.receiving {
		return
	}
	r.receiving = true
	for name, ch := range r.byName {
		ch.OnPollAnswer(onPollAnswer)
		ch.OnDeadChat(onDeadChat)
		if err := ch.StartReceiving(ctx, onMessage); err != nil {
			r.log.Error("channel failed to start", "name", name, "error", err)
		}
	}
}

// Stop halts every adapter's poller and waits for them to drain.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.receiving {
		return
	}
	r.receiving = false
	for _, ch := range r.byName {
		ch.StopReceiving()
	}
}
