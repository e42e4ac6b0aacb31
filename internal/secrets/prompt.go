// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package secrets

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads a secret from the operator. The terminal implementation is
// the production path; tests inject canned answers.
type Prompter interface {
	ReadSecret(prompt string) (string, error)
}

// TerminalPrompter reads secrets from the controlling terminal with echo
// disabled.
type TerminalPrompter struct{}

// ReadSecret prints the prompt to stderr and reads a line without echo.
// Fails when stdin is not a terminal: a non-interactive run has no operator
// to ask, and proceeding with a default key is never acceptable.
func (TerminalPrompter) ReadSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; cannot prompt for secret")
	}

	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
