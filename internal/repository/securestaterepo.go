package repository

import "github.com/navcom/groupctl/internal/securestore"

// SecureStateRepository stores encrypted group state envelopes.
type SecureStateRepository interface {
	securestore.Store
}
