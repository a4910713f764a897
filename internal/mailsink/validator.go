package mailsink

import (
	"net/mail"
	"strings"
)

// parseAddress accepts both "Name <a@b>" and bare "a@b" envelope forms.
func parseAddress(s string) (string, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		addr, err = mail.ParseAddress("<" + s + ">")
	}
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

func domainFromEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// IsValidDomain performs basic domain format validation. It checks that the
// domain is non-empty, does not start or end with a dot, and contains at
// least one dot separator.
func IsValidDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return strings.Contains(domain, ".")
}
