package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateAccount inserts an account with its routing code and maps the owning
// user to it.
func (s *Store) CreateAccount(a Account, uid, routingCode string) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO accounts (account_id, name, created_at) VALUES (?, ?, ?)`,
			a.ID, a.Name, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting account: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO user_accounts (uid, account_id) VALUES (?, ?)`,
			uid, a.ID); err != nil {
			return fmt.Errorf("mapping user to account: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO wa_bindings (account_id, routing_code) VALUES (?, ?)`,
			a.ID, routingCode); err != nil {
			return fmt.Errorf("inserting routing code: %w", err)
		}
		return nil
	})
}

// GetAccount returns an account by ID.
func (s *Store) GetAccount(id string) (Account, error) {
	var a Account
	var createdAt string
	err := s.db.QueryRow(`SELECT account_id, name, created_at FROM accounts WHERE account_id = ?`, id).
		Scan(&a.ID, &a.Name, &createdAt)
	if err == sql.ErrNoRows {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Account{}, fmt.Errorf("parsing created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

// AccountForUser resolves a user ID to their account ID.
func (s *Store) AccountForUser(uid string) (string, error) {
	var accountID string
	err := s.db.QueryRow(`SELECT account_id FROM user_accounts WHERE uid = ?`, uid).Scan(&accountID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return accountID, nil
}

// GetBinding returns the WhatsApp binding row for an account.
func (s *Store) GetBinding(accountID string) (WABinding, error) {
	return s.scanBinding(s.db.QueryRow(`
		SELECT account_id, routing_code, wa_number, bound_at
		FROM wa_bindings WHERE account_id = ?`, accountID))
}

// FindBindingByNumber looks a binding up by the bound WhatsApp number.
func (s *Store) FindBindingByNumber(number string) (WABinding, error) {
	return s.scanBinding(s.db.QueryRow(`
		SELECT account_id, routing_code, wa_number, bound_at
		FROM wa_bindings WHERE wa_number = ?`, number))
}

// BindNumber attaches a WhatsApp number to the account owning the routing
// code, releasing the number from any account it was previously bound to.
func (s *Store) BindNumber(code, number string) (WABinding, error) {
	var b WABinding
	err := s.WithTx(func(tx *sql.Tx) error {
		var accountID string
		if err := tx.QueryRow(`SELECT account_id FROM wa_bindings WHERE routing_code = ?`, code).
			Scan(&accountID); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(`UPDATE wa_bindings SET wa_number = NULL, bound_at = NULL WHERE wa_number = ?`, number); err != nil {
			return fmt.Errorf("releasing previous binding: %w", err)
		}
		boundAt := time.Now().UTC()
		if _, err := tx.Exec(`UPDATE wa_bindings SET wa_number = ?, bound_at = ? WHERE account_id = ?`,
			number, boundAt.Format(time.RFC3339), accountID); err != nil {
			return fmt.Errorf("binding number: %w", err)
		}
		b = WABinding{AccountID: accountID, RoutingCode: code, WANumber: number, BoundAt: boundAt}
		return nil
	})
	return b, err
}

// ResetBindings clears every bound WhatsApp number while keeping routing
// codes intact. Returns the number of bindings cleared.
func (s *Store) ResetBindings() (int, error) {
	res, err := s.db.Exec(`UPDATE wa_bindings SET wa_number = NULL, bound_at = NULL WHERE wa_number IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListAccountIDs returns every account ID.
func (s *Store) ListAccountIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT account_id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) scanBinding(row *sql.Row) (WABinding, error) {
	var b WABinding
	var number, boundAt sql.NullString
	err := row.Scan(&b.AccountID, &b.RoutingCode, &number, &boundAt)
	if err == sql.ErrNoRows {
		return WABinding{}, ErrNotFound
	}
	if err != nil {
		return WABinding{}, err
	}
	b.WANumber = number.String
	if boundAt.Valid && boundAt.String != "" {
		t, err := time.Parse(time.RFC3339, boundAt.String)
		if err != nil {
			return WABinding{}, fmt.Errorf("parsing bound_at: %w", err)
		}
		b.BoundAt = t
	}
	return b, nil
}
