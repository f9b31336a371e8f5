package client

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"chat-relay/internal/models"
)

func entryAt(sender string, ts time.Time, text string) Entry {
	return Entry{MessageID: models.NewFingerprint(sender, ts, text), ChatID: "u1_u2", SenderID: sender, Text: text, Timestamp: ts}
}

func texts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}

func TestChatLogKeepsTimestampOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	log := NewChatLog("u1_u2")

	log.Apply(entryAt("u1", base.Add(2*time.Second), "c"))
	log.Apply(entryAt("u2", base, "a"))
	log.Apply(entryAt("u1", base.Add(time.Second), "b"))
	log.Apply(entryAt("u2", base.Add(time.Second), "b2"))

	if diff := cmp.Diff([]string{"a", "b", "b2", "c"}, texts(log.Entries())); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestChatLogMergesSameFingerprint(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	log := NewChatLog("u1_u2")

	optimistic := entryAt("u1", ts, "hello")
	_, added := log.Apply(optimistic)
	assert.True(t, added)

	echo := optimistic
	echo.Confirmed = true
	echo.Color = "#ABCDEF"
	merged, added := log.Apply(echo)
	assert.False(t, added)
	assert.True(t, merged.Confirmed)
	assert.Equal(t, "#ABCDEF", merged.Color)
	assert.Equal(t, 1, log.Len())

	// A later unconfirmed copy never downgrades the entry.
	merged, _ = log.Apply(optimistic)
	assert.True(t, merged.Confirmed)
	assert.True(t, log.Has(optimistic.MessageID))
}

func TestEntryFromMessage(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	e := EntryFromMessage(models.Message{
		MessageID: "m1", ChatID: "u1_u2", SenderID: "u2", Text: "x", Timestamp: ts, RecipientID: models.OptionalID("u1"),
	})
	assert.True(t, e.Confirmed)
	assert.False(t, e.Pending)
	assert.Equal(t, "u1", e.RecipientID)
}
