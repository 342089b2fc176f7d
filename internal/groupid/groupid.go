// Package groupid parses and canonicalizes group addresses.
//
// Three forms are recognized: relay-qualified ("host'name"), addressable
// ("kind:pubkey:identifier", also accepted as a bech32 naddr) and opaque.
// The canonical id of a parsed address is the only equality key used for
// group-scoped state.
package groupid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Kind is the address form.
type Kind string

const (
	KindRelay  Kind = "relay"
	KindNaddr  Kind = "naddr"
	KindOpaque Kind = "opaque"
)

// Reason is a parse failure code.
type Reason string

const (
	ReasonEmpty               Reason = "GROUP_ID_EMPTY"
	ReasonInvalidRelayFormat  Reason = "GROUP_ID_INVALID_RELAY_FORMAT"
	ReasonInvalidNaddrFormat  Reason = "GROUP_ID_INVALID_NADDR_FORMAT"
	ReasonInvalidOpaqueFormat Reason = "GROUP_ID_INVALID_OPAQUE_FORMAT"
)

// Address is an immutable parsed group address.
type Address struct {
	Kind        Kind   `json:"kind"`
	CanonicalID string `json:"canonicalId"`
	RelayHost   string `json:"relayHost,omitempty"`
	GroupName   string `json:"groupName,omitempty"`
	Address     string `json:"address,omitempty"`
}

// ParseError reports why a token is not a group address.
type ParseError struct {
	Reason Reason
	Token  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid group address %q: %s", e.Token, e.Reason)
}

var (
	relayRe  = regexp.MustCompile(`^([a-z0-9.-]+)'([a-z0-9_-]+)$`)
	opaqueRe = regexp.MustCompile(`^[a-z0-9_-]{1,128}$`)
)

// Normalize trims and lower-cases a token.
func Normalize(token string) string { return strings.ToLower(strings.TrimSpace(token)) }

// IsOpaque reports whether token is a valid opaque id.
func IsOpaque(token string) bool { return opaqueRe.MatchString(Normalize(token)) }

// ParseRelay parses the "host'name" form.
func ParseRelay(token string) (Address, bool) {
	m := relayRe.FindStringSubmatch(Normalize(token))
	if m == nil {
		return Address{}, false
	}
	return Address{Kind: KindRelay, CanonicalID: m[1] + "'" + m[2], RelayHost: m[1], GroupName: m[2]}, true
}

// Parse classifies token. The returned error is always a *ParseError.
func Parse(token string) (Address, error) {
	n := Normalize(token)
	if n == "" {
		return Address{}, &ParseError{Reason: ReasonEmpty, Token: token}
	}
	if a, ok := ParseRelay(n); ok {
		return a, nil
	}
	if strings.Contains(n, ":") || strings.HasPrefix(n, "naddr1") {
		canonical, ok := canonicalAddress(n)
		if !ok {
			return Address{}, &ParseError{Reason: ReasonInvalidNaddrFormat, Token: n}
		}
		return Address{Kind: KindNaddr, CanonicalID: canonical, Address: canonical}, nil
	}
	if opaqueRe.MatchString(n) {
		return Address{Kind: KindOpaque, CanonicalID: n}, nil
	}
	if strings.Contains(n, "'") {
		return Address{}, &ParseError{Reason: ReasonInvalidRelayFormat, Token: n}
	}
	return Address{}, &ParseError{Reason: ReasonInvalidOpaqueFormat, Token: n}
}

// Canonical returns the canonical id of token, or its normalized form when it
// does not parse.
func Canonical(token string) string {
	if a, err := Parse(token); err == nil {
		return a.CanonicalID
	}
	return Normalize(token)
}

// MustParse parses token and panics on failure. Intended for constants and tests.
func MustParse(token string) Address {
	a, err := Parse(token)
	if err != nil {
		panic(err)
	}
	return a
}

func canonicalAddress(n string) (string, bool) {
	if strings.HasPrefix(n, "naddr1") {
		prefix, value, err := nip19.Decode(n)
		if err != nil || prefix != "naddr" {
			return "", false
		}
		ptr, ok := value.(nostr.EntityPointer)
		if !ok {
			return "", false
		}
		return renderAddress(ptr.Kind, ptr.PublicKey, ptr.Identifier)
	}

	parts := strings.SplitN(n, ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", false
	}
	return renderAddress(kind, parts[1], parts[2])
}

func renderAddress(kind int, pubkey, identifier string) (string, bool) {
	pubkey = strings.ToLower(pubkey)
	if kind < 0 || !nostr.IsValid32ByteHex(pubkey) {
		return "", false
	}
	return fmt.Sprintf("%d:%s:%s", kind, pubkey, strings.ToLower(identifier)), true
}
