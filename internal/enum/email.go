package enum

import "strings"

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecuritySSL      EmailSecurity = "ssl"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}

func GetEmailSecurity(s string) EmailSecurity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "plain":
		return EmailSecurityNone
	case "starttls", "tls":
		return EmailSecurityStartTLS
	default:
		return EmailSecuritySSL
	}
}
