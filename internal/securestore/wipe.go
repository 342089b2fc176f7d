package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/navcom/groupctl/internal/errs"
)

// WipeScope selects one group of an account, or all of its groups when GroupID is empty.
type WipeScope struct {
	AccountID string
	GroupID   string
}

// WipeResult reports deleted ids and the ids still present afterwards.
type WipeResult struct {
	OK                   bool
	WipedIDs             []string
	Verified             bool
	VerificationFailures []string
}

// Wipe deletes the records in scope and verifies they are gone.
func Wipe(ctx context.Context, s Store, scope WipeScope) (WipeResult, error) {
	var ids []string
	if scope.GroupID != "" {
		ids = []string{RecordID(scope.AccountID, scope.GroupID)}
	} else {
		recs, err := s.ListByAccount(ctx, scope.AccountID)
		if err != nil {
			return WipeResult{}, fmt.Errorf("list secure state: %w", err)
		}
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
	}

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return WipeResult{}, fmt.Errorf("delete %s: %w", id, err)
		}
	}

	failures, err := Verify(ctx, s, ids)
	if err != nil {
		return WipeResult{}, err
	}
	ok := len(failures) == 0
	return WipeResult{OK: ok, WipedIDs: ids, Verified: ok, VerificationFailures: failures}, nil
}

// Verify returns the ids that still resolve to a record.
func Verify(ctx context.Context, s Store, ids []string) ([]string, error) {
	var failures []string
	for _, id := range ids {
		_, err := s.Get(ctx, id)
		switch {
		case err == nil:
			failures = append(failures, id)
		case !errors.Is(err, errs.ErrNotFound):
			return nil, fmt.Errorf("verify %s: %w", id, err)
		}
	}
	return failures, nil
}
