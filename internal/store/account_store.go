package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsetup/internal/model"
)

// accountRow mirrors the accounts table.
type accountRow struct {
	ID              string       `db:"id"`
	UserID          string       `db:"user_id"`
	Name            string       `db:"name"`
	DisplayName     string       `db:"display_name"`
	EmailAddress    string       `db:"email_address"`
	Username        string       `db:"username"`
	Host            string       `db:"host"`
	Port            int          `db:"port"`
	UseSSL          int          `db:"use_ssl"`
	ProtocolURL     string       `db:"protocol_url"`
	DiscoveryMethod string       `db:"discovery_method"`
	PasswordRef     string       `db:"password_ref"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
	DeletedAt       sql.NullTime `db:"deleted_at"`
}

func (r accountRow) toModel() model.Account {
	a := model.Account{
		ID:           r.ID,
		UserID:       r.UserID,
		Name:         r.Name,
		DisplayName:  r.DisplayName,
		EmailAddress: r.EmailAddress,
		Username:     r.Username,
		Server: model.ServerConfig{
			Host:            r.Host,
			Port:            r.Port,
			UseSSL:          r.UseSSL != 0,
			ProtocolURL:     r.ProtocolURL,
			DiscoveryMethod: r.DiscoveryMethod,
		},
		PasswordRef: r.PasswordRef,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		a.DeletedAt = &t
	}
	return a
}

func validateAccount(a *model.Account) error {
	switch {
	case strings.TrimSpace(a.UserID) == "":
		return fmt.Errorf("account user must not be empty")
	case strings.TrimSpace(a.Name) == "":
		return fmt.Errorf("account name must not be empty")
	case strings.TrimSpace(a.EmailAddress) == "":
		return fmt.Errorf("account email address must not be empty")
	case strings.TrimSpace(a.Server.Host) == "":
		return fmt.Errorf("account server host must not be empty")
	case a.Server.Port <= 0 || a.Server.Port > 65535:
		return fmt.Errorf("account server port %d out of range", a.Server.Port)
	}
	return nil
}

// CreateAccount inserts a new account. A missing ID is generated and the
// timestamps are set on the passed value.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := validateAccount(a); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.DeletedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, user_id, name, display_name, email_address, username,
			host, port, use_ssl, protocol_url, discovery_method,
			password_ref, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.DisplayName, a.EmailAddress, a.Username,
		a.Server.Host, a.Server.Port, boolToInt(a.Server.UseSSL),
		a.Server.ProtocolURL, a.Server.DiscoveryMethod,
		a.PasswordRef, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("creating account for %s: %w", a.EmailAddress, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccountByID retrieves an active account owned by userID.
func (s *SQLiteStore) GetAccountByID(ctx context.Context, userID, id string) (*model.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM accounts WHERE id = ? AND user_id = ? AND deleted_at IS NULL",
		id, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}

	a := row.toModel()
	return &a, nil
}

// GetAccounts lists accounts matching filter, oldest first.
func (s *SQLiteStore) GetAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error) {
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}

	query := "SELECT * FROM accounts"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, name ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}

	accounts := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts, nil
}

// UpdateAccount replaces the editable fields of an active account.
func (s *SQLiteStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	if err := validateAccount(a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			name = ?, display_name = ?, username = ?,
			host = ?, port = ?, use_ssl = ?, protocol_url = ?, discovery_method = ?,
			password_ref = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		a.Name, a.DisplayName, a.Username,
		a.Server.Host, a.Server.Port, boolToInt(a.Server.UseSSL),
		a.Server.ProtocolURL, a.Server.DiscoveryMethod,
		a.PasswordRef, a.UpdatedAt,
		a.ID, a.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", a.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("updating account %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// SoftDeleteAccount marks an account deleted. It disappears from reads but
// the row is kept.
func (s *SQLiteStore) SoftDeleteAccount(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET deleted_at = ?, updated_at = ? WHERE id = ? AND user_id = ? AND deleted_at IS NULL",
		time.Now().UTC(), time.Now().UTC(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("deleting account %s: %w", id, ErrNotFound)
	}
	return nil
}
