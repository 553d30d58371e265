package directory

import (
	"strings"
	"unicode"

	"github.com/matheus3301/chatlog/internal/store"
	"github.com/ttacon/libphonenumber"
)

// Normalize canonicalizes a protocol address or phone number and reports its
// kind (store.TypeIM or store.TypeSMS). JIDs are lowercased with device and
// resource suffixes removed; phone numbers are formatted E.164 using region
// as the default country.
func Normalize(address, region string) (string, string) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return "", store.TypeIM
	}
	if strings.Contains(addr, "@") {
		return normalizeJID(addr), store.TypeIM
	}
	if looksLikePhone(addr) {
		return normalizePhone(addr, region), store.TypeSMS
	}
	return strings.ToLower(addr), store.TypeIM
}

func normalizeJID(addr string) string {
	addr = strings.ToLower(addr)
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	user, server, _ := strings.Cut(addr, "@")
	// WhatsApp device JIDs look like user:device@server.
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user + "@" + server
}

func looksLikePhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= 3
}

func normalizePhone(s, region string) string {
	if region == "" {
		region = "US"
	}
	if num, err := libphonenumber.Parse(s, region); err == nil {
		return libphonenumber.Format(num, libphonenumber.E164)
	}
	var b strings.Builder
	for i, r := range s {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
