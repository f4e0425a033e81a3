package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsetup/internal/account"
	"github.com/nhle/mailsetup/internal/discovery"
	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/push"
	"github.com/nhle/mailsetup/internal/setup"
	"github.com/nhle/mailsetup/internal/source/email"
	"github.com/nhle/mailsetup/internal/store"
	"github.com/nhle/mailsetup/internal/testutil"
)

type harness struct {
	t     *testing.T
	srv   *httptest.Server
	imap  *testutil.IMAPServer
	store *store.SQLiteStore
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	imap := testutil.NewIMAPServer(t, "jane", "hunter2", 3)
	st := testutil.NewTestStore(t)
	creds := testutil.NewTestCredentials(t)

	cfg := Config{
		Setup: setup.Options{
			Discoverer: discovery.NewService(discovery.Options{
				DisableISPDB: true,
				Probe:        true,
				ProbeTimeout: 2 * time.Second,
				TLSConfig:    imap.ClientTLS,
			}),
			Tester:  email.NewTester(2*time.Second, email.WithTLSConfig(imap.ClientTLS)),
			Creator: account.NewCreator(st, creds, nil),
		},
		Accounts: st,
		Remover:  account.NewCreator(st, creds, nil),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s := New(cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})

	return &harness{t: t, srv: srv, imap: imap, store: st}
}

func (h *harness) do(method, path, user string, body any) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) event(user, typ string, payload any) *http.Response {
	h.t.Helper()
	return h.do(http.MethodPost, "/api/setup/events", user, map[string]any{"type": typ, "payload": payload})
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// waitStep polls the setup view until it settles on step.
func (h *harness) waitStep(user string, step setup.Step) setup.View {
	h.t.Helper()
	var view setup.View
	require.Eventually(h.t, func() bool {
		view = decode[setup.View](h.t, h.do(http.MethodGet, "/api/setup", user, nil))
		return view.State.Step == step && !view.State.IsLoading
	}, 5*time.Second, 20*time.Millisecond)
	return view
}

func TestSetupFlow_ManualPath(t *testing.T) {
	h := newHarness(t, nil)

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?user_id=u1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	resp := h.do(http.MethodPost, "/api/setup", "u1", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = h.event("u1", "skip_discovery", map[string]string{"address": "jane@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[setup.View](t, resp)
	assert.Equal(t, setup.StepManual, view.State.Step)
	assert.True(t, view.ManualVisible)

	hint := fmt.Sprintf("imaps://%s:%d", h.imap.Host, h.imap.Port)
	resp = h.event("u1", "submit_manual_config", map[string]string{"server_hint": hint})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view = h.waitStep("u1", setup.StepAuth)
	require.NotNil(t, view.State.ServerConfig)
	assert.Equal(t, model.DiscoveryManual, view.State.ServerConfig.DiscoveryMethod)

	resp = h.event("u1", "submit_credentials", map[string]string{
		"username": "jane", "password": "hunter2", "account_name": "Work", "display_name": "Jane Doe",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view = h.waitStep("u1", setup.StepSuccess)
	require.NotNil(t, view.State.TestResult)
	assert.True(t, view.State.TestResult.Success)

	resp = h.event("u1", "finish_setup", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.waitStep("u1", setup.StepEmail)

	accounts := decode[[]model.Account](t, h.do(http.MethodGet, "/api/accounts", "u1", nil))
	require.Len(t, accounts, 1)
	assert.Equal(t, "Work", accounts[0].Name)
	assert.Equal(t, h.imap.Port, accounts[0].Server.Port)

	// Other users see nothing.
	others := decode[[]model.Account](t, h.do(http.MethodGet, "/api/accounts", "u2", nil))
	assert.Empty(t, others)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg push.Message
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type == push.TypeAccountCreated {
			var acc model.Account
			require.NoError(t, json.Unmarshal(msg.Data, &acc))
			assert.Equal(t, accounts[0].ID, acc.ID)
			break
		}
		assert.Equal(t, push.TypeSetupState, msg.Type)
	}
}

func TestSetupFlow_WrongPassword(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodPost, "/api/setup", "u1", nil)
	h.event("u1", "skip_discovery", map[string]string{"address": "jane@example.com"})
	h.event("u1", "submit_manual_config", map[string]string{
		"server_hint": fmt.Sprintf("imaps://%s:%d", h.imap.Host, h.imap.Port),
	})
	h.waitStep("u1", setup.StepAuth)

	h.event("u1", "submit_credentials", map[string]string{
		"username": "jane", "password": "nope", "account_name": "Work",
	})
	view := h.waitStep("u1", setup.StepTesting)
	assert.NotEmpty(t, view.State.Error)

	resp := h.event("u1", "edit_settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decode[setup.View](t, resp)
	assert.Equal(t, setup.StepAuth, view.State.Step)
	assert.Empty(t, view.State.Error)
}

func TestSetupEvents_Errors(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(http.MethodGet, "/api/setup", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(http.MethodPost, "/api/setup/events", "u1", map[string]string{"type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.event("u1", "submit_email", map[string]string{"address": "not-an-address"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "email", body.Field)

	resp = h.event("u1", "finish_setup", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSetupEvents_Busy(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(c *Config) {
		c.Setup.Discoverer = blockingDiscoverer(release)
	})
	defer close(release)

	resp := h.event("u1", "submit_email", map[string]string{"address": "jane@example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.event("u1", "retry_discovery", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(http.MethodDelete, "/api/setup", "u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	view := decode[setup.View](t, h.do(http.MethodGet, "/api/setup", "u1", nil))
	assert.Equal(t, setup.StepEmail, view.State.Step)
	assert.False(t, view.State.IsLoading)
}

func TestSetupEvents_RateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.EventsPerMinute = 1
		c.Burst = 2
	})

	for i := 0; i < 2; i++ {
		resp := h.event("u1", "clear_setup", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := h.event("u1", "clear_setup", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Limits are per user.
	resp = h.event("u2", "clear_setup", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccounts_CRUD(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	acc := &model.Account{
		ID: "a1", UserID: "u1", Name: "Work", EmailAddress: "jane@example.com", Username: "jane",
		Server:      model.ServerConfig{Host: "imap.example.com", Port: 993, UseSSL: true},
		PasswordRef: "keyring:account-a1",
	}
	require.NoError(t, h.store.CreateAccount(ctx, acc))

	resp := h.do(http.MethodGet, "/api/accounts/a1", "u2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(http.MethodPatch, "/api/accounts/a1", "u1", map[string]string{"display_name": "Jane Doe"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Account](t, resp)
	assert.Equal(t, "Jane Doe", got.DisplayName)
	assert.Equal(t, "Work", got.Name)

	resp = h.do(http.MethodPatch, "/api/accounts/a1", "u1", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = h.do(http.MethodPatch, "/api/accounts/a1", "u1", map[string]string{"host": "evil.example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodGet, "/api/accounts?limit=x", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodDelete, "/api/accounts/a1", "u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = h.do(http.MethodGet, "/api/accounts/a1", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(http.MethodDelete, "/api/accounts/a1", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type blockingDiscoverer chan struct{}

func (b blockingDiscoverer) Discover(ctx context.Context, _ string, _ bool) (*model.DiscoveryResult, error) {
	select {
	case <-b:
	case <-ctx.Done():
	}
	return nil, ctx.Err()
}
