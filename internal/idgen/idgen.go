// Package idgen generates the public identifiers exposed by the API.
//
// Every entity gets a type-prefixed ID like "inv_8fZk12Qp9LmN" so a bare
// reference in a webhook or a log line is self-describing.
package idgen

import (
	"crypto/rand"
	"strings"
)

const (
	base62    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	randomLen = 12
	minRandom = 10
	maxRandom = 14
)

// Known entity prefixes.
const (
	PrefixInvoice       = "inv"
	PrefixPayment       = "pay"
	PrefixDebtor        = "deb"
	PrefixBooking       = "bkg"
	PrefixNotification  = "not"
	PrefixPaymentMethod = "pm"
	PrefixWebhook       = "whk"
)

// New generates a public ID for the given entity prefix, e.g.
// New("inv") -> "inv_8fZk12Qp9LmN".
func New(prefix string) string {
	b := make([]byte, randomLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	out := make([]byte, randomLen)
	for i, v := range b {
		out[i] = base62[int(v)%len(base62)]
	}
	return prefix + "_" + string(out)
}

// Valid reports whether id looks like a well-formed public ID, optionally
// checking the expected prefix.
func Valid(id, expectedPrefix string) bool {
	i := strings.IndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return false
	}
	prefix, random := id[:i], id[i+1:]
	if expectedPrefix != "" && prefix != expectedPrefix {
		return false
	}
	if len(random) < minRandom || len(random) > maxRandom {
		return false
	}
	for _, c := range random {
		if !strings.ContainsRune(base62, c) {
			return false
		}
	}
	return true
}

// Prefix returns the entity prefix of a public ID, or "" if malformed.
func Prefix(id string) string {
	if !Valid(id, "") {
		return ""
	}
	return id[:strings.IndexByte(id, '_')]
}
