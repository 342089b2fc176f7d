package contract

import (
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// NormalizeTag lower-cases and trims the tag key and trims every value.
func NormalizeTag(tag nostr.Tag) nostr.Tag {
	if len(tag) == 0 {
		return nostr.Tag{""}
	}
	out := make(nostr.Tag, len(tag))
	out[0] = strings.ToLower(strings.TrimSpace(tag[0]))
	for i, v := range tag[1:] {
		out[i+1] = strings.TrimSpace(v)
	}
	return out
}

// NormalizeTags normalizes every tag, drops exact duplicates and sorts the
// result by key, first value, then the whole tag.
func NormalizeTags(tags nostr.Tags) nostr.Tags {
	seen := make(map[string]struct{}, len(tags))
	out := make(nostr.Tags, 0, len(tags))
	for _, t := range tags {
		n := NormalizeTag(t)
		k := strings.Join(n, "\x00")
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		av, bv := sortValue(a), sortValue(b)
		if av != bv {
			return av < bv
		}
		return strings.Join(a, "\x01") < strings.Join(b, "\x01")
	})
	return out
}

func sortValue(t nostr.Tag) string {
	if len(t) < 2 {
		return ""
	}
	return strings.ToLower(t[1])
}

// NormalizeEvent returns a copy of ev with normalized tags.
func NormalizeEvent(ev nostr.Event) nostr.Event {
	ev.Tags = NormalizeTags(ev.Tags)
	return ev
}

// TagValue returns the first non-empty value of the tag named key.
func TagValue(tags nostr.Tags, key string) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == key && t[1] != "" {
			return t[1]
		}
	}
	return ""
}
