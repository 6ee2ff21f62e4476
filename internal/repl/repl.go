// Package repl implements the interactive node CLI (§6 Node CLI): a
// line-oriented command loop reading stdin with bufio.Scanner, the same
// flat-line parsing idiom as config.LoadFile, dispatched onto a Node's
// Execute method rather than directly touching chain state.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/GZK1108/posnet/internal/node"
)

// Commander is the subset of *node.Node the REPL drives. Exported as an
// interface so tests can substitute a fake without starting real network
// I/O.
type Commander interface {
	Execute(cmd node.Command) (string, error)
	Stop()
}

// REPL reads lines from in, dispatches them to n, and writes results to
// out, until it reads "exit" or hits EOF.
type REPL struct {
	n   Commander
	in  *bufio.Scanner
	out io.Writer
}

// New builds a REPL over the given node, reading from in and writing
// prompts/results to out.
func New(n Commander, in io.Reader, out io.Writer) *REPL {
	return &REPL{n: n, in: bufio.NewScanner(in), out: out}
}

// NewStdio builds a REPL wired to os.Stdin/os.Stdout, the configuration
// cmd/nodechaind actually runs with.
func NewStdio(n Commander) *REPL {
	return New(n, os.Stdin, os.Stdout)
}

// banner prints a one-line startup summary, sized to the terminal width
// when stdout is a real terminal (falls back to 80 columns when it isn't,
// e.g. when piped or redirected).
func (r *REPL) banner(nodeID string) {
	width := 80
	if f, ok := r.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	rule := strings.Repeat("-", min(width, 60))
	fmt.Fprintf(r.out, "%s\nnode %s ready. Commands: tx stake unstake forge sync chain wallet mempool info nodes exit\n%s\n", rule, nodeID, rule)
}

// Run drives the command loop until "exit" or EOF. It calls n.Stop()
// itself on "exit" since "exit" is a REPL-layer action, not a state
// mutation routed through Execute (§6).
func (r *REPL) Run(nodeID string) {
	r.banner(nodeID)
	for {
		fmt.Fprintf(r.out, "%s> ", nodeID)
		if !r.in.Scan() {
			return
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb := fields[0]
		args := fields[1:]

		if verb == "exit" || verb == "quit" {
			r.n.Stop()
			fmt.Fprintln(r.out, "goodbye")
			return
		}

		out, err := r.n.Execute(node.Command{Verb: verb, Args: args})
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(r.out, out)
	}
}
