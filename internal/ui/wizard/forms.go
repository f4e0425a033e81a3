package wizard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailsetup/internal/discovery"
	"github.com/nhle/mailsetup/internal/setup"
)

func (m Model) buildEmailForm() *huh.Form {
	if m.f.email == "" {
		m.f.email = m.state.EmailAddress
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email address").
				Description("The address of the account you want to add").
				Placeholder("you@example.com").
				Value(&m.f.email).
				Validate(setup.ValidateEmail),
			huh.NewSelect[string]().
				Title("Server settings").
				Options(
					huh.NewOption("Find them automatically", methodAuto),
					huh.NewOption("I will enter my server myself", methodManual),
				).
				Value(&m.f.method),
		),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) buildManualForm() *huh.Form {
	options := []huh.Option[string]{huh.NewOption("Enter the server", actionManual)}
	if m.state.EmailAddress != "" && m.state.DiscoveryResult != nil {
		options = append(options, huh.NewOption("Search again", actionRetry))
	}
	options = append(options, huh.NewOption("Cancel setup", actionCancel))
	m.f.action = actionManual

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How do you want to continue?").
				Options(options...).
				Value(&m.f.action),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP server").
				Description("For example imap.example.com, imap.example.com:993 or imaps://imap.example.com").
				Placeholder("imap.example.com").
				Value(&m.f.hint).
				Validate(validateHint),
		).WithHideFunc(func() bool { return m.f.action != actionManual }),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) buildAuthForm() *huh.Form {
	s := m.state
	if creds := s.Credentials; creds != nil {
		m.f.username = creds.Username
		m.f.password = creds.Password
	} else if m.f.username == "" {
		m.f.username = s.EmailAddress
	}
	if d := s.AccountDetails; d != nil {
		m.f.accountName = d.AccountName
		m.f.displayName = d.DisplayName
	} else if m.f.accountName == "" {
		m.f.accountName = s.EmailAddress
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Description("Usually your full email address").
				Value(&m.f.username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Your mail password or an app password").
				EchoMode(huh.EchoModePassword).
				Value(&m.f.password).
				Validate(validateRequired("Password")),
			huh.NewInput().
				Title("Account name").
				Description("A label for this account").
				Placeholder("Work").
				Value(&m.f.accountName).
				Validate(validateRequired("Account name")),
			huh.NewInput().
				Title("Your name").
				Description("Optional; shown to people you write to").
				Value(&m.f.displayName),
		),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) formWidth() int {
	w := m.width - 8
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validateHint(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("server is required")
	}
	_, err := discovery.ParseHint(s)
	return err
}
