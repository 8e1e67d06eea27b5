package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/mna/mainer"

	"cosmo/internal/compiler"
	"cosmo/internal/gc"
	"cosmo/internal/stdlib"
	"cosmo/internal/value"
	"cosmo/internal/vm"
)

// limits holds resource-limit overrides an operator can set through the
// environment. The step limit (vm.SetMaxSteps) bounds a runaway script
// without operator action; an interrupt signal also stops one, since
// Run and the REPL execute through vm.CallContext.
type limits struct {
	MaxSteps int `env:"COSMO_MAX_STEPS" envDefault:"0"`
}

// newVM builds a fresh Cosmo VM wired to stdio and the base library,
// the shape every run/repl invocation shares.
func newVM(stdio mainer.Stdio) *vm.VM {
	globals := compiler.NewGlobals()
	collector := gc.New()
	strs := value.NewStrings(collector)
	v := vm.New(globals, strs, collector)
	v.Stdout = stdio.Stdout
	v.Stderr = stdio.Stderr

	var lim limits
	if err := env.Parse(&lim); err == nil && lim.MaxSteps > 0 {
		v.SetMaxSteps(lim.MaxSteps)
	}

	stdlib.Install(v)
	return v
}

// Run compiles and executes the script named by args[0].
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return printError(stdio, err)
	}

	v := newVM(stdio)
	cl, ok, errMsg := v.CompileString(string(src), args[0])
	if !ok {
		return printError(stdio, fmt.Errorf("%s: %s", args[0], errMsg))
	}
	// CallContext so a SIGINT (via mainer.CancelOnSignal) stops the
	// dispatch loop at the next opcode boundary even mid-script.
	if _, err := v.CallContext(ctx, cl, nil, 0); err != nil {
		return printError(stdio, fmt.Errorf("%s: %w", args[0], err))
	}
	return nil
}

// Repl runs an interactive read-compile-run loop: each line is
// compiled and executed against one persistent VM, so globals and
// interned strings (and any closures they capture) survive from one
// line to the next.
func (c *Cmd) Repl(ctx context.Context, stdio mainer.Stdio, args []string) error {
	v := newVM(stdio)
	scanner := bufio.NewScanner(stdio.Stdin)

	prompt := func() { fmt.Fprint(stdio.Stdout, "> ") }
	prompt()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			prompt()
			continue
		}

		cl, ok, errMsg := v.CompileString(line, "repl")
		if !ok {
			fmt.Fprintf(stdio.Stderr, "compile error: %s\n", errMsg)
			prompt()
			continue
		}
		if _, err := v.CallContext(ctx, cl, nil, 0); err != nil {
			fmt.Fprintf(stdio.Stderr, "runtime error: %s\n", err)
		}
		prompt()
	}
	return scanner.Err()
}
