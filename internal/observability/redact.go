package observability

import (
	"net/url"
	"strings"
)

// credentialParams are query parameter names whose values identify or
// authenticate a caller. They match the token heuristics used by the
// stream analyzer so a URL that counts as token-authenticated is also a
// URL that gets scrubbed before logging.
var credentialParams = map[string]struct{}{
	"token":     {},
	"auth":      {},
	"key":       {},
	"signature": {},
	"expires":   {},
	"sessionid": {},
	"sid":       {},
	"jwt":       {},
	"bearer":    {},
	"password":  {},
	"username":  {},
}

const redacted = "REDACTED"

// ScrubURL returns a copy of rawURL safe for logging: userinfo is dropped
// and the values of credential-bearing query parameters are replaced.
// Unparseable input is returned fully redacted rather than leaked.
func ScrubURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return redacted
	}

	if u.User != nil {
		u.User = url.User(redacted)
	}

	if u.RawQuery != "" {
		q := u.Query()
		changed := false
		for name := range q {
			if _, ok := credentialParams[strings.ToLower(name)]; ok {
				q.Set(name, redacted)
				changed = true
			}
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}

	return u.String()
}
