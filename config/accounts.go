package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/disqualifier/mailtime/internal/enum"
	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/models"
)

// AccountsFile is the on-disk registry of accounts to sync. It is read at
// startup; runtime additions through the API live for the process lifetime.
type AccountsFile struct {
	Accounts    []AccountEntry     `json:"accounts"`
	DefaultIMAP *DefaultIMAPConfig `json:"defaultImap,omitempty"`
}

// AccountEntry is one account descriptor. Every field except Email is
// optional; missing endpoint fields fall back to the file-level default,
// then to the environment default.
type AccountEntry struct {
	Email               string   `json:"email"`
	ImapServer          string   `json:"imapServer,omitempty"`
	ImapPort            int      `json:"imapPort,omitempty"`
	ImapUsername        string   `json:"imapUsername,omitempty"`
	ImapPassword        string   `json:"imapPassword,omitempty"`
	CredentialRef       string   `json:"credentialRef,omitempty"`
	Security            string   `json:"security,omitempty"`
	Hidden              bool     `json:"hidden,omitempty"`
	PollIntervalSeconds int      `json:"pollIntervalSeconds,omitempty"`
	Folders             []string `json:"folders,omitempty"`
}

// LoadAccounts reads the accounts file and materializes account models. A
// missing file is an empty registry, not an error. Duplicate email addresses
// (case-insensitive) are rejected.
func LoadAccounts(path string, defaults *DefaultIMAPConfig) ([]*models.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Account{}, nil
		}
		return nil, errors.Wrap(err, "reading accounts file")
	}

	var file AccountsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parsing accounts file")
	}

	fallback := defaults
	if file.DefaultIMAP != nil {
		fallback = file.DefaultIMAP
	}

	accounts := make([]*models.Account, 0, len(file.Accounts))
	seen := make(map[string]bool, len(file.Accounts))

	for _, entry := range file.Accounts {
		account, err := entry.ToAccount(fallback)
		if err != nil {
			return nil, err
		}

		key := strings.ToLower(strings.TrimSpace(account.Email))
		if seen[key] {
			return nil, errors.Wrapf(er.ErrAccountExists, "duplicate account %s", account.Email)
		}
		seen[key] = true

		accounts = append(accounts, account)
	}

	return accounts, nil
}

// ToAccount materializes one descriptor, filling the server endpoint from
// the defaults when the entry only carries an email address.
func (e AccountEntry) ToAccount(defaults *DefaultIMAPConfig) (*models.Account, error) {
	if strings.TrimSpace(e.Email) == "" {
		return nil, er.ErrEmailMissing
	}

	account := &models.Account{
		Email:         strings.TrimSpace(e.Email),
		ImapServer:    e.ImapServer,
		ImapPort:      e.ImapPort,
		ImapUsername:  e.ImapUsername,
		ImapPassword:  e.ImapPassword,
		CredentialRef: e.CredentialRef,
		Security:      enum.GetEmailSecurity(e.Security),
		Hidden:        e.Hidden,
		PollInterval:  e.PollIntervalSeconds,
		SyncFolders:   e.Folders,
	}

	if account.ImapServer == "" && defaults != nil {
		account.ImapServer = defaults.Host
		if account.ImapPort == 0 {
			account.ImapPort = defaults.Port
		}
		if e.Security == "" {
			account.Security = enum.GetEmailSecurity(defaults.Security)
		}
	}
	if account.ImapServer == "" {
		return nil, errors.Errorf("account %s has no IMAP server and no default is configured", account.Email)
	}
	if account.ImapPort == 0 {
		account.ImapPort = 993
	}

	account.EnsureID()
	return account, nil
}
