package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsetup/internal/credential"
	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/store"
	"github.com/nhle/mailsetup/internal/testutil"
)

func request() model.AccountRequest {
	return model.AccountRequest{
		UserID:       "u1",
		EmailAddress: "jane@example.com",
		Server: model.ServerConfig{
			Host:            "imap.example.com",
			Port:            993,
			UseSSL:          true,
			DiscoveryMethod: model.DiscoveryManual,
		},
		Credentials: model.Credentials{Username: "jane", Password: "hunter2"},
		Details:     model.AccountDetails{AccountName: "Work", DisplayName: "Jane Doe"},
	}
}

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	secrets := testutil.NewTestCredentials(t)
	c := NewCreator(st, secrets, nil)

	acc, err := c.CreateAccount(ctx, request())
	require.NoError(t, err)

	assert.Equal(t, "Work", acc.Name)
	assert.Equal(t, "jane", acc.Username)
	assert.Equal(t, "keyring:"+credential.AccountKey(acc.ID), acc.PasswordRef)
	assert.Equal(t, `"Jane Doe" <jane@example.com>`, acc.FromHeader())

	stored, err := st.GetAccountByID(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.PasswordRef, stored.PasswordRef)

	pw, err := c.Password(stored)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
}

type recordingTester struct {
	cfg   model.ServerConfig
	creds model.Credentials
}

func (r *recordingTester) TestConnection(_ context.Context, cfg model.ServerConfig, creds model.Credentials) (*model.TestResult, error) {
	r.cfg, r.creds = cfg, creds
	return &model.TestResult{Success: creds.Password == "hunter2", Message: "checked"}, nil
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	c := NewCreator(st, testutil.NewTestCredentials(t), nil)

	acc, err := c.CreateAccount(ctx, request())
	require.NoError(t, err)

	tester := &recordingTester{}
	res, err := c.Verify(ctx, tester, "u1", acc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.Credentials{Username: "jane", Password: "hunter2"}, tester.creds)
	assert.Equal(t, "imap.example.com", tester.cfg.Host)

	_, err = c.Verify(ctx, tester, "someone-else", acc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateAccount_RollsBackPassword(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	secrets := testutil.NewTestCredentials(t)
	c := NewCreator(st, secrets, nil)

	first, err := c.CreateAccount(ctx, request())
	require.NoError(t, err)

	_, err = c.CreateAccount(ctx, request())
	require.ErrorIs(t, err, store.ErrDuplicate)

	// Only the first account's password remains.
	accounts, err := st.GetAccounts(ctx, store.AccountFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, first.ID, accounts[0].ID)
}

func TestCreateAccount_EmptyPassword(t *testing.T) {
	c := NewCreator(testutil.NewTestStore(t), testutil.NewTestCredentials(t), nil)

	req := request()
	req.Credentials.Password = ""
	_, err := c.CreateAccount(context.Background(), req)
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	secrets := testutil.NewTestCredentials(t)
	c := NewCreator(testutil.NewTestStore(t), secrets, nil)

	acc, err := c.CreateAccount(ctx, request())
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "u1", acc.ID))

	_, err = secrets.Get(credential.AccountKey(acc.ID))
	assert.ErrorIs(t, err, credential.ErrNotFound)

	assert.ErrorIs(t, c.Delete(ctx, "u1", acc.ID), store.ErrNotFound)
}
