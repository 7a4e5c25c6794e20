package gmail

import (
	"net/mail"
	"strings"
)

// ParseSender extracts the address and display name from a From header
// value such as `"Google" <no-reply@accounts.google.com>`. When the header
// carries no display name the address doubles as the name, and a header
// that fails RFC 5322 parsing falls back to a best-effort bracket split so
// malformed senders still aggregate under something stable.
func ParseSender(from string) (email, name string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	if addr, err := mail.ParseAddress(from); err == nil {
		email = strings.ToLower(addr.Address)
		name = strings.TrimSpace(addr.Name)
		if name == "" {
			name = email
		}
		return email, name
	}

	// Malformed header: try "Name <addr>" by hand.
	if open := strings.LastIndexByte(from, '<'); open >= 0 {
		if end := strings.IndexByte(from[open:], '>'); end > 0 {
			email = strings.ToLower(strings.TrimSpace(from[open+1 : open+end]))
			name = strings.Trim(strings.TrimSpace(from[:open]), `"`)
			if name == "" {
				name = email
			}
			return email, name
		}
	}

	email = strings.ToLower(from)
	return email, email
}
