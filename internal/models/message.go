package models

import (
	"time"
)

// EmailParticipant is a single from/to/cc entry.
type EmailParticipant struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// MessageFlags is the subset of IMAP flags the engine tracks.
type MessageFlags struct {
	Seen    bool `json:"seen"`
	Flagged bool `json:"flagged"`
	Deleted bool `json:"deleted"`
}

func (f MessageFlags) Equal(other MessageFlags) bool {
	return f == other
}

// Message is a cached email. (account, folder, UID) is the unique key;
// within one folder bucket the UID alone identifies the message.
type Message struct {
	UID          uint32             `json:"uid"`
	Folder       string             `json:"folder"`
	MessageID    string             `json:"messageId,omitempty"`
	InReplyTo    string             `json:"inReplyTo,omitempty"`
	Subject      string             `json:"subject"`
	CleanSubject string             `json:"cleanSubject,omitempty"`
	From         EmailParticipant   `json:"from"`
	To           []EmailParticipant `json:"to,omitempty"`
	Cc           []EmailParticipant `json:"cc,omitempty"`
	SentAt       time.Time          `json:"sentAt"`
	Flags        MessageFlags       `json:"flags"`
	Snippet      string             `json:"snippet"`
	BodyText     string             `json:"bodyText,omitempty"`
	BodyHTML     string             `json:"bodyHtml,omitempty"`
	ContentHash  string             `json:"contentHash,omitempty"`
	Size         uint32             `json:"size"`
}

// HasFullBody reports whether the message carries more than a snippet.
func (m *Message) HasFullBody() bool {
	return m.BodyText != "" || m.BodyHTML != ""
}

// SupersededBy reports whether incoming carries anything newer than the
// cached copy: changed flags, a changed content hash, or a body upgrade
// for a message previously cached as snippet-only.
func (m *Message) SupersededBy(incoming *Message) bool {
	if incoming == nil {
		return false
	}
	if !m.Flags.Equal(incoming.Flags) {
		return true
	}
	if incoming.ContentHash != "" && incoming.ContentHash != m.ContentHash {
		return true
	}
	if !m.HasFullBody() && incoming.HasFullBody() {
		return true
	}
	return false
}
