package setup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsetup/internal/model"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Event
	}{
		{"initialize", `{"type":"initialize_setup"}`, InitializeSetup{}},
		{"clear", `{"type":"clear_setup"}`, ClearSetup{}},
		{"submit email", `{"type":"submit_email","payload":{"address":"a@example.com"}}`, SubmitEmail{Address: "a@example.com"}},
		{"skip discovery", `{"type":"skip_discovery","payload":{"address":"a@example.com"}}`, SkipDiscovery{Address: "a@example.com"}},
		{"manual", `{"type":"submit_manual_config","payload":{"server_hint":"imaps://mail.example.com"}}`, SubmitManualConfig{ServerHint: "imaps://mail.example.com"}},
		{"credentials", `{"type":"submit_credentials","payload":{"username":"u","password":"p","account_name":"Work","display_name":"Jane"}}`, SubmitCredentials{
			Credentials: model.Credentials{Username: "u", Password: "p"},
			Details:     model.AccountDetails{AccountName: "Work", DisplayName: "Jane"},
		}},
		{"retry test", `{"type":"retry_test"}`, RetryTest{}},
		{"finish", `{"type":"finish_setup"}`, FinishSetup{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEvent_Errors(t *testing.T) {
	for _, data := range []string{
		`not json`,
		`{"type":"unknown"}`,
		`{"type":"submit_email"}`,
		`{"type":"submit_email","payload":"oops"}`,
		`{"type":"discovery_succeeded","payload":{}}`,
	} {
		_, err := DecodeEvent([]byte(data))
		assert.Error(t, err, data)
	}
}
