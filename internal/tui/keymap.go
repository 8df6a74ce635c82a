package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings for the call screen.
type KeyMap struct {
	Call      key.Binding
	Mute      key.Binding
	TryAgain  key.Binding
	Save      key.Binding
	Quit      key.Binding
	ForceQuit key.Binding
}

// DefaultKeyMap returns the default key bindings for the call screen.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Call: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "start session"),
		),
		Mute: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "toggle mic"),
		),
		TryAgain: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "try again"),
		),
		Save: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "save transcript"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "force quit"),
		),
	}
}

// ShortHelp returns the enabled bindings.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Call, k.Mute, k.TryAgain, k.Save}
}

// FullHelp returns all bindings grouped by row.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Call, k.Mute, k.TryAgain, k.Save},
		{k.Quit, k.ForceQuit},
	}
}
