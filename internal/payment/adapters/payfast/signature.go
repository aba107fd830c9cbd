package payfast

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const signatureField = "signature"

// Sign computes the gateway signature: MD5 over the sorted, URL-encoded,
// non-empty fields with the passphrase appended last.
func Sign(fields map[string]string, passphrase string) string {
	payload := canonicalQuery(fields)
	if p := strings.TrimSpace(passphrase); p != "" {
		if payload != "" {
			payload += "&"
		}
		payload += "passphrase=" + url.QueryEscape(p)
	}
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature and compares it in constant time.
func Verify(fields map[string]string, signature, passphrase string) bool {
	provided := strings.ToLower(strings.TrimSpace(signature))
	if provided == "" {
		return false
	}
	expected := Sign(fields, passphrase)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// FieldsFromValues flattens a parsed form, keeping the first value per key.
func FieldsFromValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for key, vals := range values {
		key = strings.TrimSpace(key)
		if key == "" || len(vals) == 0 {
			continue
		}
		out[key] = vals[0]
	}
	return out
}

// canonicalQuery is the signed string without passphrase. The same encoding
// is used for the redirect query so both sides see identical bytes.
func canonicalQuery(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key, value := range fields {
		if key == signatureField || strings.TrimSpace(value) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.TrimSpace(fields[key])))
	}
	return b.String()
}
