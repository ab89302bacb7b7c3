package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/touchgrasshq/touchgrass/internal/channel"
)

const maxDownloadBytes = 50 << 20

// handleMessage normalizes one Telegram message and hands it to the router
// callback. Attachments are downloaded to the uploads directory and their
// local paths appended to the text.
func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message, onMessage func(channel.InboundMessage)) {
	// forum topic lifecycle service messages carry the topic names
	if msg.ForumTopicCreated != nil {
		c.topicNames.Store(topicKey(msg.Chat.ID, msg.MessageThreadID), msg.ForumTopicCreated.Name)
		return
	}
	if msg.ForumTopicEdited != nil && msg.ForumTopicEdited.Name != "" {
		c.topicNames.Store(topicKey(msg.Chat.ID, msg.MessageThreadID), msg.ForumTopicEdited.Name)
		return
	}
	if msg.From == nil {
		return
	}

	isGroup := msg.Chat.Type == telego.ChatTypeGroup || msg.Chat.Type == telego.ChatTypeSupergroup
	threadID := 0
	if msg.IsTopicMessage {
		threadID = msg.MessageThreadID
	}
	chatID := c.chatAddr(msg.Chat.ID, threadID)

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	text = c.stripBotMention(text)

	in := channel.InboundMessage{
		UserID:   c.userAddr(msg.From.ID),
		ChatID:   chatID,
		Username: msg.From.Username,
		Text:     strings.TrimSpace(text),
		IsGroup:  isGroup,
	}
	if isGroup {
		in.ChatTitle = msg.Chat.Title
	}
	if threadID != 0 {
		if v, ok := c.topicNames.Load(topicKey(msg.Chat.ID, threadID)); ok {
			in.TopicTitle = v.(string)
		}
	}
	if msg.ReplyToMessage != nil {
		if rt := msg.ReplyToMessage.Text; rt != "" {
			in.ReplyToRef = rt
		} else if rc := msg.ReplyToMessage.Caption; rc != "" {
			in.ReplyToRef = rc
		}
	}

	for _, source := range []*telego.Message{msg, msg.ReplyToMessage} {
		if source == nil {
			continue
		}
		for _, path := range c.downloadAttachments(ctx, source) {
			in.FileURLs = append(in.FileURLs, path)
			if in.Text != "" {
				in.Text += "\n" + path
			} else {
				in.Text = path
			}
		}
	}

	if in.Text == "" && len(in.FileURLs) == 0 {
		return
	}

	c.noteChat(chatID, chatTitle(msg, in.TopicTitle), isGroup, threadID != 0)
	onMessage(in)
}

func chatTitle(msg *telego.Message, topicTitle string) string {
	if msg.Chat.Title != "" {
		if topicTitle != "" {
			return msg.Chat.Title + " › " + topicTitle
		}
		return msg.Chat.Title
	}
	if msg.From != nil {
		name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if name != "" {
			return name
		}
		return msg.From.Username
	}
	return ""
}

func topicKey(chatID int64, threadID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(threadID)
}

// stripBotMention removes a leading @botname from command-style messages so
// "/stop@my_bot" routes like "/stop".
func (c *Channel) stripBotMention(text string) string {
	if c.opts.BotUsername == "" {
		return text
	}
	mention := "@" + c.opts.BotUsername
	text = strings.ReplaceAll(text, mention, "")
	return text
}

// downloadAttachments fetches documents and photos into the uploads dir with
// 0600 permissions and returns their local paths.
func (c *Channel) downloadAttachments(ctx context.Context, msg *telego.Message) []string {
	if c.opts.UploadsDir == "" {
		return nil
	}
	var fileIDs []struct{ id, name string }
	if msg.Document != nil {
		fileIDs = append(fileIDs, struct{ id, name string }{msg.Document.FileID, msg.Document.FileName})
	}
	if len(msg.Photo) > 0 {
		// largest size is last
		p := msg.Photo[len(msg.Photo)-1]
		fileIDs = append(fileIDs, struct{ id, name string }{p.FileID, ""})
	}
	if msg.Voice != nil {
		fileIDs = append(fileIDs, struct{ id, name string }{msg.Voice.FileID, ""})
	}

	var out []string
	for _, f := range fileIDs {
		path, err := c.downloadFile(ctx, f.id, f.name)
		if err != nil {
			slog.Warn("attachment download failed", "file_id", f.id, "error", err)
			continue
		}
		out = append(out, path)
	}
	return out
}

func (c *Channel) downloadFile(ctx context.Context, fileID, name string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file id %s", fileID)
	}
	if int64(file.FileSize) > maxDownloadBytes {
		return "", fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.opts.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if name == "" {
		name = filepath.Base(file.FilePath)
	}
	if err := os.MkdirAll(c.opts.UploadsDir, 0o700); err != nil {
		return "", err
	}
	dst := filepath.Join(c.opts.UploadsDir, file.FileUniqueID+"_"+filepath.Base(name))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes)); err != nil {
		return "", fmt.Errorf("write download: %w", err)
	}
	return dst, nil
}
