// Package account manages tenants, user-to-account resolution, and the
// WhatsApp number binding lifecycle.
package account

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zyvault/zyvault/internal/storage"
)

// Manager wraps account and binding operations over the store.
type Manager struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store *storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Init creates an account for the user and returns it with its routing code.
// Calling Init again for the same user returns the existing account.
func (m *Manager) Init(uid, name string) (storage.Account, string, error) {
	if uid == "" {
		return storage.Account{}, "", fmt.Errorf("user id is required")
	}

	if existingID, err := m.store.AccountForUser(uid); err == nil {
		acct, err := m.store.GetAccount(existingID)
		if err != nil {
			return storage.Account{}, "", err
		}
		binding, err := m.store.GetBinding(existingID)
		if err != nil {
			return storage.Account{}, "", err
		}
		return acct, binding.RoutingCode, nil
	} else if err != storage.ErrNotFound {
		return storage.Account{}, "", err
	}

	acct := storage.Account{ID: uuid.NewString(), Name: name}
	code, err := newRoutingCode()
	if err != nil {
		return storage.Account{}, "", err
	}
	if err := m.store.CreateAccount(acct, uid, code); err != nil {
		return storage.Account{}, "", fmt.Errorf("creating account: %w", err)
	}

	m.logger.Info("account created", "account_id", acct.ID, "uid", uid)
	return acct, code, nil
}

// Resolve maps a user ID to their account ID.
func (m *Manager) Resolve(uid string) (string, error) {
	return m.store.AccountForUser(uid)
}

// Binding returns the account's WhatsApp binding state.
func (m *Manager) Binding(accountID string) (storage.WABinding, error) {
	return m.store.GetBinding(accountID)
}

// ResetBindings clears every bound WhatsApp number. Admin operation.
func (m *Manager) ResetBindings() (int, error) {
	return m.store.ResetBindings()
}

// PurgeWhatsAppContent removes WhatsApp-sourced documents, chunks, and
// vectors for every account. Used together with ResetBindings when the
// bridge is detached or re-provisioned.
func (m *Manager) PurgeWhatsAppContent() (int, error) {
	ids, err := m.store.ListAccountIDs()
	if err != nil {
		return 0, fmt.Errorf("listing accounts: %w", err)
	}
	total := 0
	for _, id := range ids {
		n, err := m.store.DeleteDocumentsBySource(id, storage.SourceWhatsApp)
		if err != nil {
			return total, fmt.Errorf("purging account %s: %w", id, err)
		}
		total += n
	}
	if total > 0 {
		m.logger.Info("whatsapp content purged", "documents", total)
	}
	return total, nil
}

// codeAlphabet avoids ambiguous characters; codes are read aloud and typed
// into chat.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newRoutingCode returns a code like "ZV-7KQ2MN".
func newRoutingCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating routing code: %w", err)
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "ZV-" + string(out), nil
}
