package setup

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

func promptYesNo(msg string) (bool, error) {
	fmt.Fprint(os.Stderr, msg)
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil {
		return false, err
	}
	s := strings.TrimSpace(strings.ToLower(line))
	return s == "y" || s == "yes", nil
}

func PromptPassword(prompt string) ([]byte, error) {
	_, _ = fmt.Fprint(os.Stderr, prompt)

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(os.Stderr)

	if err != nil {
		Zero(pw)
		return nil, errors.Wrap(err, "password input failed")
	}
	if len(pw) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	return pw, nil
}

// Zero wipes b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
