// Package account persists the result of a completed setup.
package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/credential"
	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
	"github.com/nhle/mailsetup/internal/store"
)

const keyringRefPrefix = "keyring:"

// Secrets is the part of the credential store the creator needs.
type Secrets interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Creator stores the password in the keyring and the account row in the
// database. The password never reaches the database.
type Creator struct {
	store   store.Store
	secrets Secrets
	logger  *zap.Logger
}

var _ source.AccountCreator = (*Creator)(nil)

// NewCreator returns a Creator writing to st and secrets.
func NewCreator(st store.Store, secrets Secrets, logger *zap.Logger) *Creator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Creator{store: st, secrets: secrets, logger: logger}
}

// CreateAccount persists req. If the row cannot be written the stored
// password is removed again.
func (c *Creator) CreateAccount(ctx context.Context, req model.AccountRequest) (*model.Account, error) {
	if strings.TrimSpace(req.Credentials.Password) == "" {
		return nil, fmt.Errorf("creating account: password must not be empty")
	}

	id := uuid.New().String()
	key := credential.AccountKey(id)

	if err := c.secrets.Set(key, req.Credentials.Password); err != nil {
		return nil, fmt.Errorf("storing account password: %w", err)
	}

	name := req.Details.AccountName
	if name == "" {
		name = req.EmailAddress
	}
	username := req.Credentials.Username
	if username == "" {
		username = req.EmailAddress
	}

	acc := &model.Account{
		ID:           id,
		UserID:       req.UserID,
		Name:         name,
		DisplayName:  req.Details.DisplayName,
		EmailAddress: req.EmailAddress,
		Username:     username,
		Server:       req.Server,
		PasswordRef:  keyringRefPrefix + key,
	}

	if err := c.store.CreateAccount(ctx, acc); err != nil {
		if delErr := c.secrets.Delete(key); delErr != nil {
			c.logger.Error("rolling back account password",
				zap.String("account_id", id),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("saving account: %w", err)
	}

	c.logger.Info("account created",
		zap.String("account_id", id),
		zap.String("user_id", req.UserID),
		zap.String("host", req.Server.Host),
		zap.String("method", req.Server.DiscoveryMethod),
	)
	return acc, nil
}

// Password resolves the stored password of acc.
func (c *Creator) Password(acc *model.Account) (string, error) {
	key, ok := strings.CutPrefix(acc.PasswordRef, keyringRefPrefix)
	if !ok {
		return "", fmt.Errorf("account %s has no keyring reference", acc.ID)
	}
	return c.secrets.Get(key)
}

// Verify signs in to the server of a saved account with its stored
// password.
func (c *Creator) Verify(ctx context.Context, tester source.ConnectionTester, userID, id string) (*model.TestResult, error) {
	acc, err := c.store.GetAccountByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	pw, err := c.Password(acc)
	if err != nil {
		return nil, fmt.Errorf("reading password of account %s: %w", id, err)
	}

	res, err := tester.TestConnection(ctx, acc.Server, model.Credentials{Username: acc.Username, Password: pw})
	if err != nil {
		return nil, err
	}
	c.logger.Info("verified account",
		zap.String("account_id", id),
		zap.Bool("success", res.Success),
	)
	return res, nil
}

// Delete soft-deletes the account and drops its password.
func (c *Creator) Delete(ctx context.Context, userID, id string) error {
	if err := c.store.SoftDeleteAccount(ctx, userID, id); err != nil {
		return err
	}
	if err := c.secrets.Delete(credential.AccountKey(id)); err != nil {
		c.logger.Warn("removing account password", zap.String("account_id", id), zap.Error(err))
	}
	return nil
}
