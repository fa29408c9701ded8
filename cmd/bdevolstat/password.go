package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readPasswordSecure reads a password from stdin without local echo when
// stdin is a terminal, falling back to a plain buffered read when it is
// piped.
func readPasswordSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(pw, "\r\n"), nil
	}

	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}
