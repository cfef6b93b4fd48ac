package store

import (
	"net/url"
	"strings"
)

// Scope is a composite identifier distinguishing independently stored token
// sets.  Only ClientID is required.  It is used solely to derive a storage
// key: two Scope values with identical fields are interchangeable.
//
// Not to be confused with an OAuth "scope" string, though one may be carried
// in the Scope field.
type Scope struct {
	ClientID string
	UserID   string
	Scope    string
	Resource string
	Purpose  string
}

// DefaultScope returns the scope used by single-tenant callers.
func DefaultScope() Scope {
	return Scope{ClientID: "default"}
}

// keyPrefix begins every storage key produced by StorageKey.
const keyPrefix = "client_"

// StorageKey encodes the scope into a flat storage key:
// client_<clientId> followed by _user_<v>, _scope_<v>, _resource_<v> and
// _purpose_<v> in that fixed order, appended only for fields that are
// present.  Field values are escaped (see escapeValue) so the encoding is
// reversible for every value; spaces become "%20" rather than the historical
// bare underscore, which would be ambiguous against the separator.
func (s Scope) StorageKey() string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(escapeValue(s.ClientID))
	appendScopeField(&b, "user", s.UserID)
	appendScopeField(&b, "scope", s.Scope)
	appendScopeField(&b, "resource", s.Resource)
	appendScopeField(&b, "purpose", s.Purpose)
	return b.String()
}

func appendScopeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteByte('_')
	b.WriteString(label)
	b.WriteByte('_')
	b.WriteString(escapeValue(value))
}

// DecodeStorageKey is the best-effort inverse of Scope.StorageKey.  It
// returns false (not an error) when the key does not begin with "client_".
// Unrecognized label/value pairs are skipped.
func DecodeStorageKey(key string) (Scope, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return Scope{}, false
	}

	parts := strings.Split(key, "_")
	// parts[0] is the "client" label itself
	s := Scope{ClientID: unescapeValue(parts[1])}

	rest := parts[2:]
	for i := 0; i+1 < len(rest); i += 2 {
		value := unescapeValue(rest[i+1])
		switch rest[i] {
		case "user":
			s.UserID = value
		case "scope":
			s.Scope = value
		case "resource":
			s.Resource = value
		case "purpose":
			s.Purpose = value
		}
	}
	return s, true
}

// valueEscaper escapes the characters that would be ambiguous inside a
// storage key: the separator, the escape character itself, and spaces.
var valueEscaper = strings.NewReplacer(
	"%", "%25",
	"_", "%5F",
	" ", "%20",
)

func escapeValue(v string) string {
	return valueEscaper.Replace(v)
}

func unescapeValue(v string) string {
	if !strings.Contains(v, "%") {
		return v
	}
	unescaped, err := url.PathUnescape(v)
	if err != nil {
		// best effort: a malformed escape is kept verbatim
		return v
	}
	return unescaped
}
