package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the setup wizard that are handled
// outside the forms.
type KeyMap struct {
	// Cancel abandons the setup.
	Cancel key.Binding

	// Confirm accepts the result screen.
	Confirm key.Binding

	// Retry repeats the failed operation.
	Retry key.Binding

	// Edit returns to the settings form after a failed test.
	Edit key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Cancel: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("esc", "cancel"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "save"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		Edit: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "edit settings"),
		),
	}
}

// LoadingHelp returns the bindings shown while an operation runs.
func (k *KeyMap) LoadingHelp() []key.Binding {
	return []key.Binding{k.Cancel}
}

// TestFailedHelp returns the bindings shown after a failed connection test.
func (k *KeyMap) TestFailedHelp() []key.Binding {
	return []key.Binding{k.Retry, k.Edit, k.Cancel}
}

// ConfirmHelp returns the bindings shown on the summary screen.
func (k *KeyMap) ConfirmHelp() []key.Binding {
	return []key.Binding{k.Confirm, k.Cancel}
}
