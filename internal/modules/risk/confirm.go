package risk

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// AffirmativeToken is the only answer that approves a confirm-tier value.
const AffirmativeToken = "YES"

// Prompt describes a confirm-tier breach awaiting an operator decision.
type Prompt struct {
	Rule    string
	Value   string
	Op      string
	Level   string
	Message string
}

func (p Prompt) String() string {
	return fmt.Sprintf("SEC [%s](%s %s %s) '%s'. %s to confirm.", p.Rule, p.Value, p.Op, p.Level, p.Message, AffirmativeToken)
}

// Confirmer decides whether a confirm-tier value may proceed.
type Confirmer func(p Prompt) bool

// Decline refuses every prompt.
func Decline(Prompt) bool { return false }

// ConsoleConfirmer prompts on out and reads one line from in.
// The read blocks the calling goroutine until the operator answers.
func ConsoleConfirmer(in io.Reader, out io.Writer) Confirmer {
	var mu sync.Mutex
	reader := bufio.NewReader(in)
	return func(p Prompt) bool {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(out, "\x1b[34m%s\x1b[0m\n", p)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		return strings.TrimRight(line, "\r\n") == AffirmativeToken
	}
}
