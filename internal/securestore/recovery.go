package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/navcom/groupctl/internal/errs"
)

// Corruption reasons.
const (
	CorruptMissingRecord  = "MISSING_RECORD"
	CorruptSchemaVersion  = "SCHEMA_VERSION_MISMATCH"
	CorruptMissingFields  = "MISSING_ENVELOPE_FIELDS"
	CorruptDecryptFailure = "DECRYPTION_FAILED"
)

// Corruption is the verdict of Detect.
type Corruption struct {
	Corrupted bool
	Reason    string
}

// Detect classifies a record and the error of decrypting it. rec is nil
// when the record is missing.
func Detect(rec *Record, decryptErr error) Corruption {
	if rec == nil {
		return Corruption{Corrupted: true, Reason: CorruptMissingRecord}
	}
	env := rec.Envelope
	if env == nil {
		return Corruption{Corrupted: true, Reason: CorruptMissingFields}
	}
	if env.Version != SchemaVersion {
		return Corruption{Corrupted: true, Reason: CorruptSchemaVersion}
	}
	if env.Salt == "" || env.Nonce == "" || env.Ciphertext == "" {
		return Corruption{Corrupted: true, Reason: CorruptMissingFields}
	}
	if decryptErr != nil {
		return Corruption{Corrupted: true, Reason: CorruptDecryptFailure}
	}
	return Corruption{}
}

// Message returns the remediation message of a corruption verdict.
func (c Corruption) Message() string {
	if !c.Corrupted {
		return "Secure group state is healthy."
	}
	switch c.Reason {
	case CorruptSchemaVersion:
		return "Secure group state format is unsupported. Refresh the app to run latest migrations."
	case CorruptDecryptFailure:
		return "Secure group state could not be decrypted. Recovery from trusted remote events is required."
	case CorruptMissingFields:
		return "Secure group state is malformed and will be rehydrated from trusted remote events."
	}
	return "Secure group state is missing and will be rehydrated from trusted remote events."
}

// Rehydrate sources.
const (
	SourceTrustedRemote     = "trusted-remote"
	ReasonRemoteUnavailable = "trusted-remote-unavailable"
)

// RemoteFetcher returns trusted group state, or nil when none is available.
type RemoteFetcher func(ctx context.Context) (any, error)

// Rehydration is the outcome of Rehydrate.
type Rehydration struct {
	OK     bool
	State  any
	Source string
	Reason string
}

// Message returns the user message of a rehydration.
func (r Rehydration) Message() string {
	if r.OK {
		return "Secure group state was recovered from trusted remote events."
	}
	return "Unable to recover secure group state from trusted remote events. Retry when relay connectivity improves."
}

// Rehydrate fetches trusted remote state and writes it encrypted.
func Rehydrate(ctx context.Context, s Store, c *Codec, accountID, groupID string, fetch RemoteFetcher, now int64) (Rehydration, error) {
	remote, err := fetch(ctx)
	if err != nil || remote == nil {
		return Rehydration{Reason: ReasonRemoteUnavailable}, nil
	}
	if _, err := Write(ctx, s, c, accountID, groupID, remote, now); err != nil {
		return Rehydration{}, err
	}
	return Rehydration{OK: true, State: remote, Source: SourceTrustedRemote}, nil
}

// LoadResult reports how Load obtained the state.
type LoadResult struct {
	Corruption  Corruption
	Rehydration *Rehydration
}

// Load reads the group state into out. When the local record is missing or
// unusable it rehydrates from fetch and decodes the rehydrated record into out.
func Load(ctx context.Context, s Store, c *Codec, accountID, groupID string, out any, fetch RemoteFetcher, now int64) (LoadResult, error) {
	var rec *Record
	r, err := s.Get(ctx, RecordID(accountID, groupID))
	switch {
	case err == nil:
		rec = &r
	case !errors.Is(err, errs.ErrNotFound):
		return LoadResult{}, err
	}

	var decErr error
	if rec != nil && rec.Envelope != nil && rec.Envelope.Version == SchemaVersion {
		decErr = c.Decrypt(*rec, out)
	}
	verdict := Detect(rec, decErr)
	if !verdict.Corrupted {
		return LoadResult{Corruption: verdict}, nil
	}

	rh, err := Rehydrate(ctx, s, c, accountID, groupID, fetch, now)
	if err != nil {
		return LoadResult{Corruption: verdict}, err
	}
	res := LoadResult{Corruption: verdict, Rehydration: &rh}
	if !rh.OK {
		return res, nil
	}
	if _, err := Read(ctx, s, c, accountID, groupID, out); err != nil {
		return res, fmt.Errorf("read rehydrated state: %w", err)
	}
	return res, nil
}
