package credential

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"

	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/models"
)

const (
	keyringPrefix = "keyring:"
	envPrefix     = "env:"
)

// Resolver turns an account's credential reference into the login secret.
// Reference forms:
//
//	keyring:<service>/<user>  looked up in the OS keyring
//	env:<VAR>                 read from the environment
//	anything else             used as a literal secret
//
// Resolved secrets are handed straight to the IMAP login and never logged.
type resolver struct{}

func NewResolver() Resolver {
	return &resolver{}
}

type Resolver interface {
	Password(account *models.Account) (string, error)
	Resolve(ref string) (string, error)
}

// Password returns the secret for an account. An inline password wins over
// the credential reference.
func (r *resolver) Password(account *models.Account) (string, error) {
	if account.ImapPassword != "" {
		return account.ImapPassword, nil
	}
	return r.Resolve(account.CredentialRef)
}

func (r *resolver) Resolve(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, keyringPrefix):
		return r.fromKeyring(strings.TrimPrefix(ref, keyringPrefix))
	case strings.HasPrefix(ref, envPrefix):
		return r.fromEnv(strings.TrimPrefix(ref, envPrefix))
	case ref != "":
		return ref, nil
	default:
		return "", er.ErrCredentialNotFound
	}
}

func (r *resolver) fromKeyring(ref string) (string, error) {
	service, user, ok := strings.Cut(ref, "/")
	if !ok || service == "" || user == "" {
		return "", errors.Wrapf(er.ErrCredentialNotFound, "malformed keyring reference %q", ref)
	}

	secret, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", errors.Wrapf(er.ErrCredentialNotFound, "no keyring entry for %s/%s", service, user)
		}
		return "", errors.Wrap(err, "keyring lookup failed")
	}
	return secret, nil
}

func (r *resolver) fromEnv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", errors.Wrapf(er.ErrCredentialNotFound, "environment variable %s is not set", name)
	}
	return value, nil
}
