package imap

import (
	"context"
	"log"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/models"
)

// fetchItems asks for everything one pass needs: envelope, flags, structure
// and the raw body. BODY.PEEK keeps the server from marking messages seen.
var fetchItems = []imap.FetchItem{
	imap.FetchEnvelope,
	imap.FetchFlags,
	imap.FetchBodyStructure,
	"BODY.PEEK[]",
	imap.FetchUid,
}

// FetchSince returns messages with UID greater than sinceUID. With a zero
// cursor it bounds the first pass to the newest maxCount messages of the
// folder; on later passes maxCount caps one batch, oldest first, so an
// interrupted catch-up resumes where it stopped.
func (c *Client) FetchSince(ctx context.Context, folder string, sinceUID uint32, maxCount int) ([]*models.Message, error) {
	if err := c.ensureSelected(ctx, folder); err != nil {
		return nil, err
	}
	conn, err := c.session()
	if err != nil {
		return nil, err
	}

	if sinceUID == 0 {
		return c.fetchTail(conn, folder, maxCount)
	}

	criteria := imap.NewSearchCriteria()
	uidRange := new(imap.SeqSet)
	uidRange.AddRange(sinceUID+1, 0)
	criteria.Uid = uidRange

	conn.Timeout = commandTimeout
	uids, err := conn.UidSearch(criteria)
	conn.Timeout = 0

	if err != nil {
		return nil, er.NewProtocolError("uid search", folder, err)
	}

	if len(uids) == 0 {
		log.Printf("[%s][%s] No new messages since UID %d", c.account.ID, folder, sinceUID)
		return nil, nil
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if maxCount > 0 && len(uids) > maxCount {
		log.Printf("[%s][%s] Limiting batch to %d of %d new messages",
			c.account.ID, folder, maxCount, len(uids))
		uids = uids[:maxCount]
	}

	log.Printf("[%s][%s] Found %d new messages since UID %d", c.account.ID, folder, len(uids), sinceUID)

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	return c.fetchMessages(conn, folder, seqSet, true)
}

// fetchTail downloads the newest maxCount messages by sequence number. Used
// for the first sync of a folder, where there is no cursor to resume from.
func (c *Client) fetchTail(conn *client.Client, folder string, maxCount int) ([]*models.Message, error) {
	mbox := conn.Mailbox()
	if mbox == nil || mbox.Messages == 0 {
		log.Printf("[%s][%s] Folder is empty, nothing to fetch", c.account.ID, folder)
		return nil, nil
	}

	total := mbox.Messages
	from := uint32(1)
	if maxCount > 0 && total > uint32(maxCount) {
		from = total - uint32(maxCount) + 1
	}

	log.Printf("[%s][%s] Initial fetch of messages %d to %d", c.account.ID, folder, from, total)

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, total)

	return c.fetchMessages(conn, folder, seqSet, false)
}

// FetchByUIDs downloads the given messages in full.
func (c *Client) FetchByUIDs(ctx context.Context, folder string, uids []uint32) ([]*models.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	if err := c.ensureSelected(ctx, folder); err != nil {
		return nil, err
	}
	conn, err := c.session()
	if err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	return c.fetchMessages(conn, folder, seqSet, true)
}

// fetchMessages runs one FETCH and parses every returned message.
func (c *Client) fetchMessages(conn *client.Client, folder string, seqSet *imap.SeqSet, byUID bool) ([]*models.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	conn.Timeout = fetchTimeout

	go func() {
		if byUID {
			done <- conn.UidFetch(seqSet, fetchItems, messages)
		} else {
			done <- conn.Fetch(seqSet, fetchItems, messages)
		}
	}()

	var result []*models.Message
	for msg := range messages {
		parsed := buildMessage(folder, msg)
		if parsed != nil {
			result = append(result, parsed)
		}
	}

	conn.Timeout = 0

	if err := <-done; err != nil {
		return nil, er.NewProtocolError("fetch", folder, err)
	}

	log.Printf("[%s][%s] Fetched %d messages", c.account.ID, folder, len(result))
	return result, nil
}

// FetchFlags returns the current flags of every message with UID at most
// uptoUID. Bodies are not re-downloaded. UIDs the server no longer reports
// have been expunged; callers detect that by diffing against the cache.
func (c *Client) FetchFlags(ctx context.Context, folder string, uptoUID uint32) (map[uint32]models.MessageFlags, error) {
	flags := make(map[uint32]models.MessageFlags)
	if uptoUID == 0 {
		return flags, nil
	}

	if err := c.ensureSelected(ctx, folder); err != nil {
		return nil, err
	}
	conn, err := c.session()
	if err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, uptoUID)

	items := []imap.FetchItem{
		imap.FetchFlags,
		imap.FetchUid,
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	conn.Timeout = fetchTimeout

	go func() {
		done <- conn.UidFetch(seqSet, items, messages)
	}()

	for msg := range messages {
		if msg.Uid == 0 {
			continue
		}
		flags[msg.Uid] = flagsFromIMAP(msg.Flags)
	}

	conn.Timeout = 0

	if err := <-done; err != nil {
		return nil, er.NewProtocolError("uid fetch flags", folder, err)
	}

	return flags, nil
}

// Search runs a server-side substring search and returns matching UIDs,
// newest first. Servers that reject the query surface ErrSearchUnsupported
// so callers can fall back to the local cache.
func (c *Client) Search(ctx context.Context, folder string, query string) ([]uint32, error) {
	if err := c.ensureSelected(ctx, folder); err != nil {
		return nil, err
	}
	conn, err := c.session()
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Text = []string{query}

	conn.Timeout = commandTimeout
	uids, err := conn.UidSearch(criteria)
	conn.Timeout = 0

	if err != nil {
		if er.IsConnectionLost(err) {
			return nil, er.NewProtocolError("uid search", folder, err)
		}
		return nil, errors.Wrap(er.ErrSearchUnsupported, err.Error())
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	log.Printf("[%s][%s] Server search matched %d messages", c.account.ID, folder, len(uids))
	return uids, nil
}
