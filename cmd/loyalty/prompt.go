package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// isInteractive reports whether stdin and stdout are both terminals.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// promptClient asks for the client name and phone, prefilled with any
// values already given on the command line.
func promptClient(code, name, phone string) (string, string, error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Assign "+code).
				Description("Existing clients are matched by phone number."),
			huh.NewInput().
				Title("Client name").
				Value(&name).
				Validate(required("name")),
			huh.NewInput().
				Title("Phone number").
				Value(&phone).
				Validate(required("phone number")),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", "", fmt.Errorf("assignment cancelled")
		}
		return "", "", err
	}
	return strings.TrimSpace(name), strings.TrimSpace(phone), nil
}
