package models

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// TimestampLayout is the canonical wire form of message timestamps. In UTC it
// matches the output of JavaScript's Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// BroadcastChatID groups frames that name neither a recipient nor a chat.
const BroadcastChatID = "broadcast"

const fingerprintTextPrefix = 10

// Fingerprint identifies a logical message independently of how many times it
// was submitted. Two distinct messages from the same sender in the same
// millisecond whose first ten runes match produce the same fingerprint.
type Fingerprint string

// NewFingerprint derives the fingerprint of a message.
func NewFingerprint(senderID string, ts time.Time, text string) Fingerprint {
	return Fingerprint(senderID + "_" + FormatTimestamp(ts) + "_" + textPrefix(text, fingerprintTextPrefix))
}

func (f Fingerprint) String() string { return string(f) }

// ChatIDFor returns the conversation id shared by two identities, regardless
// of which one initiates.
func ChatIDFor(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// FormatTimestamp renders t in the canonical layout.
func FormatTimestamp(t time.Time) string {
	return CanonicalTime(t).Format(TimestampLayout)
}

// CanonicalTime drops precision below a millisecond and moves t to UTC.
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ParseTimestamp accepts any RFC 3339 timestamp and returns its canonical time.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return CanonicalTime(t), nil
}

// TruncateText returns at most n runes of text.
func TruncateText(text string, n int) string {
	return textPrefix(text, n)
}

func textPrefix(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
