// internal/messaging/sanitize.go

package messaging

import (
	"encoding/json"
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxAttachmentURLLength  = 2048
	maxAttachmentMetaLength = 4096
	maxEmojiLength          = 32

	// encoded markup nests at most this deep before it is left escaped
	maxSanitizePasses = 5
)

// Sanitizer strips markup from user text. Message content is stored as
// plain text and escaped by whoever renders it.
type Sanitizer struct {
	policy    *bluemonday.Policy
	maxLength int
}

func NewSanitizer(maxLength int) *Sanitizer {
	return &Sanitizer{
		policy:    bluemonday.StrictPolicy(),
		maxLength: maxLength,
	}
}

// Text removes all tags, restores entities and trims surrounding space.
// Unescaping can surface markup that was entity-encoded, so the pair is
// repeated until the text stops changing.
func (s *Sanitizer) Text(raw string) string {
	text := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(next)
		}
		text = next
	}
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// Content sanitizes message text and enforces the length limit in runes
func (s *Sanitizer) Content(raw string) (string, error) {
	clean := s.Text(raw)
	if utf8.RuneCountInString(clean) > s.maxLength {
		return "", ErrContentTooLong
	}
	return clean, nil
}

// validateAttachment checks the reference shape. Only http and https
// URLs are accepted.
func validateAttachment(rawURL string, meta json.RawMessage) error {
	if len(rawURL) > maxAttachmentURLLength {
		return ErrInvalidAttachment
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidAttachment
	}

	if len(meta) > 0 && (len(meta) > maxAttachmentMetaLength || !json.Valid(meta)) {
		return ErrAttachmentMeta
	}
	return nil
}

func normalizeEmoji(raw string) (string, error) {
	emoji := strings.TrimSpace(raw)
	if emoji == "" || len(emoji) > maxEmojiLength || !utf8.ValidString(emoji) {
		return "", ErrInvalidEmoji
	}
	return emoji, nil
}
