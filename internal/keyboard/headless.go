package keyboard

import (
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/thruflo/botloop/internal/logging"
)

// HeadlessEnv forces headless mode when set to a non-empty value.
const HeadlessEnv = "BOTLOOP_HEADLESS"

// Headless reports whether the process lacks an interactive terminal. It
// is computed on first use and never again.
var Headless = sync.OnceValue(func() bool {
	headless := detectHeadless(os.Getenv, term.IsTerminal(int(os.Stdin.Fd())))
	if headless {
		logging.Warn("Error in keyboard or display setup, running in headless mode. " +
			"Keyboard controls and camera display are disabled.")
	}
	return headless
})

func detectHeadless(getenv func(string) string, stdinIsTerminal bool) bool {
	if getenv(HeadlessEnv) != "" {
		return true
	}
	return !stdinIsTerminal
}
