package imap

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawTestEmail = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: Re: Project status\r\n" +
	"Message-Id: <msg-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Here is the latest update on the project.\r\n"

func fetchedTestMessage() *imap.Message {
	section := &imap.BodySectionName{}
	return &imap.Message{
		Uid:   77,
		Flags: []string{imap.SeenFlag, imap.FlaggedFlag},
		Envelope: &imap.Envelope{
			Date:      time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC),
			Subject:   "Re: Project status",
			MessageId: "<msg-1@example.com>",
			InReplyTo: "<root@example.com> <mid@example.com>",
			From: []*imap.Address{
				{PersonalName: "Alice", MailboxName: "alice", HostName: "example.com"},
			},
			To: []*imap.Address{
				{PersonalName: "Bob", MailboxName: "bob", HostName: "example.com"},
			},
		},
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(rawTestEmail),
		},
	}
}

func TestBuildMessage(t *testing.T) {
	// Arrange
	msg := fetchedTestMessage()

	// Act
	parsed := buildMessage("INBOX", msg)

	// Assert
	require.NotNil(t, parsed)
	assert.Equal(t, uint32(77), parsed.UID)
	assert.Equal(t, "INBOX", parsed.Folder)
	assert.Equal(t, "Re: Project status", parsed.Subject)
	assert.Equal(t, "Project status", parsed.CleanSubject)
	assert.Equal(t, "msg-1@example.com", parsed.MessageID)
	assert.Equal(t, "root@example.com", parsed.InReplyTo)
	assert.Equal(t, "Alice", parsed.From.Name)
	assert.Equal(t, "alice@example.com", parsed.From.Address)
	require.Len(t, parsed.To, 1)
	assert.Equal(t, "bob@example.com", parsed.To[0].Address)
	assert.Equal(t, time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC), parsed.SentAt)
	assert.True(t, parsed.Flags.Seen)
	assert.True(t, parsed.Flags.Flagged)
	assert.False(t, parsed.Flags.Deleted)
	assert.Contains(t, parsed.BodyText, "latest update on the project")
	assert.Equal(t, "Here is the latest update on the project.", parsed.Snippet)
	assert.NotEmpty(t, parsed.ContentHash)
	assert.Equal(t, uint32(len(rawTestEmail)), parsed.Size)
	assert.True(t, parsed.HasFullBody())
}

func TestBuildMessage_WithoutUID(t *testing.T) {
	// Arrange
	msg := &imap.Message{Envelope: &imap.Envelope{Subject: "no uid"}}

	// Act
	parsed := buildMessage("INBOX", msg)

	// Assert
	assert.Nil(t, parsed)
}

func TestBuildMessage_EnvelopeOnly(t *testing.T) {
	// Arrange: a flags-only fetch carries no body sections.
	msg := &imap.Message{
		Uid:   12,
		Flags: []string{imap.SeenFlag},
	}

	// Act
	parsed := buildMessage("INBOX", msg)

	// Assert
	require.NotNil(t, parsed)
	assert.True(t, parsed.Flags.Seen)
	assert.False(t, parsed.HasFullBody())
	assert.Empty(t, parsed.ContentHash)
}

func TestBuildMessage_SnippetIsBounded(t *testing.T) {
	// Arrange
	longBody := make([]byte, 0, 2000)
	for i := 0; i < 2000; i++ {
		longBody = append(longBody, 'a')
	}
	raw := "Subject: long\r\nContent-Type: text/plain\r\n\r\n" + string(longBody)

	section := &imap.BodySectionName{}
	msg := &imap.Message{
		Uid: 5,
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(raw),
		},
	}

	// Act
	parsed := buildMessage("INBOX", msg)

	// Assert
	require.NotNil(t, parsed)
	assert.Len(t, parsed.Snippet, snippetLength)
	assert.Greater(t, len(parsed.BodyText), snippetLength)
}

func TestFirstReference(t *testing.T) {
	assert.Equal(t, "a@x", firstReference("<a@x>"))
	assert.Equal(t, "a@x", firstReference("<a@x> <b@x>"))
	assert.Equal(t, "", firstReference(""))
	assert.Equal(t, "", firstReference("<>"))
}

func TestFlagsFromIMAP(t *testing.T) {
	flags := flagsFromIMAP([]string{imap.SeenFlag, imap.DeletedFlag, imap.AnsweredFlag})
	assert.True(t, flags.Seen)
	assert.True(t, flags.Deleted)
	assert.False(t, flags.Flagged)

	assert.Equal(t, flagsFromIMAP(nil), flagsFromIMAP([]string{}))
}
