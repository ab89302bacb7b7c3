package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/touchgrasshq/touchgrass/internal/channel"
)

// Telegram caps messages at 4096 chars; leave headroom for the pre tags.
const maxChunk = 4000

type outputMessage struct {
	mu        sync.Mutex
	messageID int
	text      string // raw (unescaped) text currently in the message
}

// Send delivers one HTML message and invalidates the edit-in-place cache for
// the chat, so later output starts a fresh message.
func (c *Channel) Send(ctx context.Context, chatID, html string) error {
	id, thread, err := c.splitChat(chatID)
	if err != nil {
		return err
	}
	msg := tu.Message(tu.ID(id), html).WithParseMode(telego.ModeHTML)
	if thread != 0 {
		msg = msg.WithMessageThreadID(thread)
	}
	_, err = c.bot.SendMessage(ctx, msg)
	if err != nil {
		c.reportSendErr(chatID, err)
		return fmt.Errorf("telegram send: %w", err)
	}
	c.lastOutput.Delete(chatID)
	return nil
}

// SendOutput delivers raw terminal output as monospace blocks. Consecutive
// outputs to the same chat are merged by editing the previous message in
// place while the combined text still fits one chunk.
func (c *Channel) SendOutput(ctx context.Context, chatID, rawANSI string) error {
	id, thread, err := c.splitChat(chatID)
	if err != nil {
		return err
	}
	text := channel.StripANSI(rawANSI)
	if text == "" {
		return nil
	}

	if v, ok := c.lastOutput.Load(chatID); ok {
		om := v.(*outputMessage)
		om.mu.Lock()
		combined := om.text + "\n" + text
		if len(combined) <= maxChunk {
			_, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
				ChatID:    tu.ID(id),
				MessageID: om.messageID,
				Text:      "<pre>" + escapeHTML(combined) + "</pre>",
				ParseMode: telego.ModeHTML,
			})
			if err == nil || isNotModifiedErr(err) {
				om.text = combined
				om.mu.Unlock()
				return nil
			}
			// fall through to a fresh message on any other edit failure
		}
		om.mu.Unlock()
	}

	chunks := chunkText(text, maxChunk)
	for i, chunk := range chunks {
		msg := tu.Message(tu.ID(id), "<pre>"+escapeHTML(chunk)+"</pre>").WithParseMode(telego.ModeHTML)
		if thread != 0 {
			msg = msg.WithMessageThreadID(thread)
		}
		sent, err := c.bot.SendMessage(ctx, msg)
		if err != nil {
			c.reportSendErr(chatID, err)
			return fmt.Errorf("telegram send output: %w", err)
		}
		if i == len(chunks)-1 {
			c.lastOutput.Store(chatID, &outputMessage{messageID: sent.MessageID, text: chunk})
		}
	}
	return nil
}

// SendDocument uploads a local file with an optional caption.
func (c *Channel) SendDocument(ctx context.Context, chatID, filePath, caption string) error {
	id, thread, err := c.splitChat(chatID)
	if err != nil {
		return err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	doc := tu.Document(tu.ID(id), tu.FileFromReader(f, filepath.Base(filePath)))
	if caption != "" {
		doc = doc.WithCaption(caption)
	}
	if thread != 0 {
		doc = doc.WithMessageThreadID(thread)
	}
	if _, err := c.bot.SendDocument(ctx, doc); err != nil {
		c.reportSendErr(chatID, err)
		return fmt.Errorf("telegram send document: %w", err)
	}
	return nil
}

// chunkText splits text into pieces of at most limit bytes, preferring to
// break at newlines.
func chunkText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var out []string
	for len(text) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
