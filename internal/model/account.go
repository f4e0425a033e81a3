package model

import (
	"time"

	"github.com/emersion/go-message/mail"
)

// Discovery methods recorded on a ServerConfig.
const (
	DiscoveryISPDB      = "ispdb"
	DiscoveryAutoconfig = "autoconfig"
	DiscoverySRV        = "srv"
	DiscoveryGuess      = "guess"
	DiscoveryManual     = "manual"
)

// ServerConfig holds the resolved connection parameters of a mail server.
type ServerConfig struct {
	// Host is the IMAP server hostname.
	Host string `json:"host"`

	// Port is the IMAP server port (e.g., 993 or 143).
	Port int `json:"port"`

	// UseSSL selects implicit TLS; when false, STARTTLS is required.
	UseSSL bool `json:"use_ssl"`

	// ProtocolURL is the canonical endpoint (e.g., imaps://imap.example.com:993).
	ProtocolURL string `json:"protocol_url"`

	// DiscoveryMethod records how the configuration was obtained
	// (use Discovery* constants).
	DiscoveryMethod string `json:"discovery_method"`
}

// DiscoveryResult is the outcome of a single discovery attempt.
type DiscoveryResult struct {
	Success        bool          `json:"success"`
	Config         *ServerConfig `json:"config,omitempty"`
	TriedEndpoints []string      `json:"tried_endpoints"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Suggestion     string        `json:"suggestion,omitempty"`
}

// Credentials are the secrets used to log in to the mail server.
// The password is never serialized.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// AccountDetails holds the user-facing labels of an account.
type AccountDetails struct {
	AccountName string `json:"account_name"`
	DisplayName string `json:"display_name"`
}

// TestResult is the outcome of a connection test.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AccountRequest carries everything collected during setup that is needed
// to persist a new account.
type AccountRequest struct {
	UserID       string
	EmailAddress string
	Server       ServerConfig
	Credentials  Credentials
	Details      AccountDetails
}

// Account is a configured mail account owned by a user.
type Account struct {
	// ID is the unique identifier for this account.
	ID string `json:"id"`

	// UserID identifies the owning user.
	UserID string `json:"user_id"`

	// Name is the user-defined label (e.g., "Work").
	Name string `json:"name"`

	// DisplayName is the sender name used on outgoing mail.
	DisplayName string `json:"display_name"`

	// EmailAddress is the mailbox address.
	EmailAddress string `json:"email_address"`

	// Username is the login name on the mail server.
	Username string `json:"username"`

	// Server holds the connection parameters.
	Server ServerConfig `json:"server"`

	// PasswordRef points at the stored secret (e.g., "keyring:account-<id>").
	PasswordRef string `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// FromHeader returns the RFC 5322 formatted sender identity of the account.
func (a Account) FromHeader() string {
	addr := &mail.Address{Name: a.DisplayName, Address: a.EmailAddress}
	return addr.String()
}
