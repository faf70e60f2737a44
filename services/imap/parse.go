package imap

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/disqualifier/mailtime/internal/models"
	"github.com/disqualifier/mailtime/internal/utils"
)

const snippetLength = 500

// buildMessage converts one fetched IMAP message into the cache model.
// Returns nil for messages without a UID; those cannot be merged.
func buildMessage(folder string, msg *imap.Message) *models.Message {
	if msg == nil || msg.Uid == 0 {
		return nil
	}

	m := &models.Message{
		UID:    msg.Uid,
		Folder: folder,
		Flags:  flagsFromIMAP(msg.Flags),
	}

	applyEnvelope(m, msg.Envelope)

	raw := extractFullMessage(msg)
	if len(raw) > 0 {
		m.Size = uint32(len(raw))
		m.ContentHash = utils.ContentHash(raw)
		applyBody(m, raw)
	}

	return m
}

func applyEnvelope(m *models.Message, envelope *imap.Envelope) {
	if envelope == nil {
		return
	}

	if !envelope.Date.IsZero() {
		m.SentAt = envelope.Date
	}

	m.Subject = envelope.Subject
	m.CleanSubject = utils.NormalizeEmailSubject(envelope.Subject)
	m.MessageID = utils.NormalizeMessageID(envelope.MessageId)
	m.InReplyTo = firstReference(envelope.InReplyTo)

	if len(envelope.From) > 0 {
		m.From = participantFromAddress(envelope.From[0])
	}
	m.To = participantsFromAddresses(envelope.To)
	m.Cc = participantsFromAddresses(envelope.Cc)
}

// firstReference extracts the first message ID from an In-Reply-To header,
// which can carry several space-separated references.
func firstReference(inReplyTo string) string {
	for _, ref := range strings.Fields(inReplyTo) {
		ref = utils.NormalizeMessageID(ref)
		if ref != "" {
			return ref
		}
	}
	return ""
}

func participantFromAddress(addr *imap.Address) models.EmailParticipant {
	return models.EmailParticipant{
		Name:    addr.PersonalName,
		Address: addr.Address(),
	}
}

func participantsFromAddresses(addresses []*imap.Address) []models.EmailParticipant {
	if len(addresses) == 0 {
		return nil
	}

	result := make([]models.EmailParticipant, 0, len(addresses))
	for _, addr := range addresses {
		if addr.MailboxName == "" || addr.HostName == "" {
			continue
		}
		result = append(result, participantFromAddress(addr))
	}
	return result
}

// extractFullMessage pulls the raw RFC822 source out of the fetch response.
// PEEK sections are skipped to avoid duplicates; the server answers a
// BODY.PEEK[] request under the plain BODY[] section key.
func extractFullMessage(msg *imap.Message) []byte {
	var buf bytes.Buffer

	for section, literal := range msg.Body {
		if section.Peek {
			continue
		}
		if len(section.Path) == 0 && section.Specifier == imap.EntireSpecifier {
			data, err := io.ReadAll(literal)
			if err == nil {
				buf.Write(data)
				break
			}
		}
	}

	return buf.Bytes()
}

// applyBody parses the raw message with enmime and fills body text, HTML and
// the snippet. An unparseable body leaves the envelope fields intact.
func applyBody(m *models.Message, raw []byte) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return
	}

	m.BodyText = envelope.Text
	m.BodyHTML = envelope.HTML
	m.Snippet = utils.Truncate(strings.TrimSpace(envelope.Text), snippetLength)

	if m.MessageID == "" {
		m.MessageID = utils.NormalizeMessageID(envelope.GetHeader("Message-Id"))
	}
	if m.InReplyTo == "" {
		m.InReplyTo = firstReference(envelope.GetHeader("In-Reply-To"))
	}
}

func flagsFromIMAP(flags []string) models.MessageFlags {
	var f models.MessageFlags
	for _, flag := range flags {
		switch flag {
		case imap.SeenFlag:
			f.Seen = true
		case imap.FlaggedFlag:
			f.Flagged = true
		case imap.DeletedFlag:
			f.Deleted = true
		}
	}
	return f
}
