package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr/nip11"

	"github.com/navcom/groupctl/internal/model"
)

// NIP numbers read from a relay information document.
const (
	nipCommandResults = "20"
	nipGroups         = "29"
	nipAuth           = "42"
)

// InfoFetcher loads a NIP-11 relay information document.
type InfoFetcher func(ctx context.Context, url string) (nip11.RelayInformationDocument, error)

// InfoProber derives capabilities from NIP-11 documents.
type InfoProber struct {
	fetch       InfoFetcher
	signerNip44 bool
}

// NewInfoProber constructs a prober. A nil fetch uses nip11.Fetch.
// signerNip44 reports whether the local signer can encrypt with NIP-44.
func NewInfoProber(fetch InfoFetcher, signerNip44 bool) *InfoProber {
	if fetch == nil {
		fetch = nip11.Fetch
	}
	return &InfoProber{fetch: fetch, signerNip44: signerNip44}
}

// Capabilities implements capability.Prober.
func (p *InfoProber) Capabilities(ctx context.Context, url string) (model.Capabilities, error) {
	doc, err := p.fetch(ctx, url)
	if err != nil {
		return model.Capabilities{}, fmt.Errorf("relay info %s: %w", url, err)
	}
	nips, err := supported(doc.SupportedNIPs)
	if err != nil {
		return model.Capabilities{}, fmt.Errorf("relay info %s: %w", url, err)
	}
	authRequired := doc.Limitation != nil && doc.Limitation.AuthRequired
	return model.Capabilities{
		RelayURL:           url,
		SupportsAuth:       nips[nipAuth] || authRequired,
		SupportsGroupKinds: nips[nipGroups],
		SupportsStableAck:  nips[nipCommandResults],
		SignerNip44:        p.signerNip44,
	}, nil
}

// supported normalizes the supported_nips list, which relays fill with
// numbers or numeric strings.
func supported(list any) (map[string]bool, error) {
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[fmt.Sprint(it)] = true
	}
	return out, nil
}
