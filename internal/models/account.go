package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/disqualifier/mailtime/internal/enum"
)

// Account describes one IMAP account under management.
type Account struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	ImapServer    string             `json:"imapServer"`
	ImapPort      int                `json:"imapPort"`
	ImapUsername  string             `json:"imapUsername"`
	ImapPassword  string             `json:"-"`
	CredentialRef string             `json:"credentialRef,omitempty"`
	Security      enum.EmailSecurity `json:"security"`
	Hidden        bool               `json:"hidden"`
	PollInterval  int                `json:"pollIntervalSeconds"`
	SyncFolders   []string           `json:"syncFolders"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// AccountID derives the stable account ID from an email address. Re-adding
// the same address always maps to the same ID and therefore the same cache file.
func AccountID(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (a *Account) EnsureID() {
	if a.ID == "" {
		a.ID = AccountID(a.Email)
	}
}

// Username returns the IMAP login name, defaulting to the email address.
func (a *Account) Username() string {
	if a.ImapUsername != "" {
		return a.ImapUsername
	}
	return a.Email
}

// ServerAddr returns the host:port dial address.
func (a *Account) ServerAddr() string {
	return fmt.Sprintf("%s:%d", a.ImapServer, a.ImapPort)
}

// PollEvery returns the poll interval as a duration, applying the given
// fallback when the account does not set one.
func (a *Account) PollEvery(fallback time.Duration) time.Duration {
	if a.PollInterval <= 0 {
		return fallback
	}
	return time.Duration(a.PollInterval) * time.Second
}

// FoldersOfInterest returns the folders this account syncs. An empty list
// means the primary inbox only. The literal "ALL" is resolved by the worker
// against the server's folder list.
func (a *Account) FoldersOfInterest() []string {
	if len(a.SyncFolders) == 0 {
		return []string{"INBOX"}
	}
	return a.SyncFolders
}

// WantsAllFolders reports whether the account asked for server-side folder
// discovery instead of a fixed folder list.
func (a *Account) WantsAllFolders() bool {
	return len(a.SyncFolders) == 1 && strings.EqualFold(a.SyncFolders[0], "ALL")
}
