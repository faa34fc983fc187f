package agreement

import "strings"

// NormalizeDomain extracts the lowercase, trimmed domain from an email
// address. It returns ErrNoDomain when the address carries no usable domain;
// callers must treat that as "no organizational coverage possible", never as
// a failure that blocks the request.
func NormalizeDomain(email string) (string, error) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "", ErrNoDomain
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" || !strings.Contains(domain, ".") {
		return "", ErrNoDomain
	}
	return domain, nil
}

// DefaultGenericDomains seeds the generic-domain blocklist with the common
// free mail providers. A domain on this list can never establish
// organizational coverage, regardless of any agreement record.
var DefaultGenericDomains = []string{
	"gmail.com",
	"googlemail.com",
	"yahoo.com",
	"yahoo.co.uk",
	"outlook.com",
	"hotmail.com",
	"hotmail.co.uk",
	"live.com",
	"msn.com",
	"aol.com",
	"icloud.com",
	"me.com",
	"mac.com",
	"protonmail.com",
	"proton.me",
	"mail.com",
	"gmx.com",
	"gmx.net",
	"yandex.com",
	"yandex.ru",
	"zoho.com",
	"fastmail.com",
	"comcast.net",
	"att.net",
	"verizon.net",
}
