package main

import (
	"bufio"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
)

// readPassword reads a passphrase from the controlling terminal without
// echoing it, falling back to a plain scanned line when stdin isn't a
// terminal (piped input, e.g. in scripts).
func readPassword() (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return trimNewline(line), nil
	}
	b, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func promptPassphrase(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	p, err := readPassword()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatalf("read passphrase: %v", err)
	}
	return p
}
