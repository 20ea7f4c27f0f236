package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// PromptContinue asks a yes/no question on the terminal. In
// non-interactive mode it answers yes without asking.
func PromptContinue(message string) bool {
	if !IsInteractive() {
		return true
	}
	return promptContinue(os.Stdin, os.Stderr, message)
}

func promptContinue(in io.Reader, out io.Writer, message string) bool {
	fmt.Fprintf(out, "%s [Y/n]: ", message)

	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}
