package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsetup/internal/model"
)

// ErrNotFound is returned when a row does not exist or has been deleted.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a user already has an active account for
// the same email address.
var ErrDuplicate = errors.New("account already exists")

// AccountFilter controls account listing.
type AccountFilter struct {
	UserID         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Store defines the persistence interface for configured mail accounts and
// the discovery cache.
type Store interface {
	// === Accounts ===

	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, userID, id string) (*model.Account, error)
	GetAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error)
	UpdateAccount(ctx context.Context, account *model.Account) error
	SoftDeleteAccount(ctx context.Context, userID, id string) error

	// === Discovery cache ===

	PutDiscovery(ctx context.Context, domain string, cfg model.ServerConfig) error
	GetDiscovery(ctx context.Context, domain string, maxAge time.Duration) (*model.ServerConfig, error)

	Close() error
}
