package imap

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/disqualifier/mailtime/interfaces"
	er "github.com/disqualifier/mailtime/internal/errors"
)

// preferredFolders is the display and sync ordering applied when a server's
// folder list is used directly. Junk and Spam are the same slot on different
// servers.
var preferredFolders = []string{"INBOX", "Sent", "Drafts", "Trash", "Spam", "Junk", "Notes"}

// excludedFolders never participate in auto-discovered sync.
var excludedFolders = []string{"Archive", "Arquivo Morto", "Outbox"}

// ListFolders returns the selectable folders on the server, preferred
// folders first, the rest alphabetical, exclusions removed.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	conn, err := c.session()
	if err != nil {
		return nil, err
	}

	conn.Timeout = commandTimeout
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- conn.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		if hasAttr(m.Attributes, imap.NoSelectAttr) {
			continue
		}
		folders = append(folders, m.Name)
	}

	conn.Timeout = 0
	if err := <-done; err != nil {
		return nil, er.NewProtocolError("list", "", err)
	}

	folders = OrderFolders(folders)

	log.Printf("[%s] Found %d folders: %v", c.account.ID, len(folders), folders)
	return folders, nil
}

// SelectFolder opens a folder read-only and reports its counts. The engine
// never mutates server state, so every select is read-only.
func (c *Client) SelectFolder(ctx context.Context, folder string) (*interfaces.FolderInfo, error) {
	conn, err := c.session()
	if err != nil {
		return nil, err
	}

	conn.Timeout = commandTimeout
	mbox, err := conn.Select(folder, true)
	conn.Timeout = 0

	if err != nil {
		return nil, er.NewProtocolError("select", folder, err)
	}

	c.mu.Lock()
	c.selected = folder
	c.mu.Unlock()

	log.Printf("[%s][%s] Selected folder - Messages: %d, Unseen: %d",
		c.account.ID, folder, mbox.Messages, mbox.Unseen)

	return &interfaces.FolderInfo{
		Name:     folder,
		Messages: mbox.Messages,
		Unseen:   mbox.Unseen,
	}, nil
}

// ensureSelected selects the folder unless it is already the active one.
func (c *Client) ensureSelected(ctx context.Context, folder string) error {
	c.mu.Lock()
	current := c.selected
	c.mu.Unlock()

	if current == folder {
		return nil
	}
	_, err := c.SelectFolder(ctx, folder)
	return err
}

// OrderFolders sorts folder names into the preferred ordering and drops the
// excluded ones. Matching is case-insensitive; server spellings are kept.
func OrderFolders(folders []string) []string {
	var ordered []string
	var rest []string

	remaining := make([]string, 0, len(folders))
	for _, name := range folders {
		if isExcludedFolder(name) {
			continue
		}
		remaining = append(remaining, name)
	}

	taken := make(map[string]bool, len(remaining))
	for _, preferred := range preferredFolders {
		for _, name := range remaining {
			if taken[name] {
				continue
			}
			if strings.EqualFold(name, preferred) {
				ordered = append(ordered, name)
				taken[name] = true
			}
		}
	}

	for _, name := range remaining {
		if !taken[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	return append(ordered, rest...)
}

func isExcludedFolder(name string) bool {
	for _, excluded := range excludedFolders {
		if strings.EqualFold(name, excluded) {
			return true
		}
	}
	return false
}

func hasAttr(attrs []string, attr string) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}
