package kronix

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// interactiveMu ensures only one interactive prompt reads stdin at a time.
// This prevents background goroutines from hanging invisibly while waiting for input.
var interactiveMu sync.Mutex

// askForConfirmation prompts the user and defaults to 'no'.
// It can print the prompt with a specific color style if p is not nil.
func askForConfirmation(p colorPrinter, in io.Reader, format string, a ...any) bool {
	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	reader := bufio.NewReader(in)
	mainPrompt := fmt.Sprintf(format, a...)
	fullPrompt := fmt.Sprintf("%s [y/N] ", mainPrompt)

	for {
		cPrintf(p, "%s", fullPrompt)
		response, err := reader.ReadString('\n')
		if err != nil && response == "" {
			return false // On error (like Ctrl+D), default to "no"
		}
		response = strings.ToLower(strings.TrimSpace(response))

		if response == "y" || response == "yes" {
			return true
		}
		if response == "n" || response == "no" || response == "" {
			return false
		}
		cPrintln(colWarn, "Invalid input.")
	}
}

// PromptPolicy asks on the terminal whether to continue past a failed step,
// defaulting to abort. When stdin is not a terminal it aborts without
// asking, so unattended runs never hang on a prompt.
func PromptPolicy() RecoveryPolicy {
	return func(ctx context.Context, st Step, err error) bool {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return false
		}
		return askForConfirmation(colNote, os.Stdin, "Continue ?")
	}
}
