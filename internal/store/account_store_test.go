package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/store"
	"github.com/nhle/mailsetup/internal/testutil"
)

func newAccount(userID, email string) *model.Account {
	return &model.Account{
		UserID:       userID,
		Name:         "Work",
		DisplayName:  "Jane Doe",
		EmailAddress: email,
		Username:     email,
		Server: model.ServerConfig{
			Host:            "imap.example.com",
			Port:            993,
			UseSSL:          true,
			ProtocolURL:     "imaps://imap.example.com:993",
			DiscoveryMethod: model.DiscoveryISPDB,
		},
		PasswordRef: "keyring:account-x",
	}
}

func TestMigrations(t *testing.T) {
	s := testutil.NewTestStore(t)

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	a := newAccount("u1", "jane@example.com")
	require.NoError(t, s.CreateAccount(ctx, a))
	require.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := s.GetAccountByID(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Work", got.Name)
	assert.Equal(t, a.Server, got.Server)
	assert.Equal(t, "keyring:account-x", got.PasswordRef)
	assert.Nil(t, got.DeletedAt)

	got.Name = "Personal"
	got.Server.Port = 143
	got.Server.UseSSL = false
	require.NoError(t, s.UpdateAccount(ctx, got))

	updated, err := s.GetAccountByID(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Personal", updated.Name)
	assert.Equal(t, 143, updated.Server.Port)
	assert.False(t, updated.Server.UseSSL)

	require.NoError(t, s.SoftDeleteAccount(ctx, "u1", a.ID))

	_, err = s.GetAccountByID(ctx, "u1", a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.SoftDeleteAccount(ctx, "u1", a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	all, err := s.GetAccounts(ctx, store.AccountFilter{UserID: "u1", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].DeletedAt)
}

func TestAccountsAreScopedToUser(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	a := newAccount("u1", "jane@example.com")
	require.NoError(t, s.CreateAccount(ctx, a))
	require.NoError(t, s.CreateAccount(ctx, newAccount("u2", "bob@example.com")))

	_, err := s.GetAccountByID(ctx, "u2", a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.SoftDeleteAccount(ctx, "u2", a.ID), store.ErrNotFound)

	list, err := s.GetAccounts(ctx, store.AccountFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "jane@example.com", list[0].EmailAddress)
}

func TestCreateAccount_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	first := newAccount("u1", "jane@example.com")
	require.NoError(t, s.CreateAccount(ctx, first))

	err := s.CreateAccount(ctx, newAccount("u1", "JANE@example.com"))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Deleting the first frees the address again.
	require.NoError(t, s.SoftDeleteAccount(ctx, "u1", first.ID))
	assert.NoError(t, s.CreateAccount(ctx, newAccount("u1", "jane@example.com")))
}

func TestCreateAccount_Validation(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	bad := newAccount("u1", "jane@example.com")
	bad.Server.Port = 0
	assert.Error(t, s.CreateAccount(ctx, bad))

	bad = newAccount("u1", "jane@example.com")
	bad.Name = " "
	assert.Error(t, s.CreateAccount(ctx, bad))
}

func TestUpdateAccount_NotFound(t *testing.T) {
	a := newAccount("u1", "jane@example.com")
	a.ID = "missing"
	err := testutil.NewTestStore(t).UpdateAccount(context.Background(), a)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDiscoveryCache(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, err := s.GetDiscovery(ctx, "example.com", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	cfg := model.ServerConfig{Host: "imap.example.com", Port: 993, UseSSL: true, DiscoveryMethod: model.DiscoverySRV}
	require.NoError(t, s.PutDiscovery(ctx, "Example.COM", cfg))

	got, err := s.GetDiscovery(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)

	_, err = s.GetDiscovery(ctx, "example.com", time.Nanosecond)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
