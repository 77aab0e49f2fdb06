package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/wudi/luavm/config"
	"github.com/wudi/luavm/values"
	"github.com/wudi/luavm/vm"
)

// newEngine builds a VM configured from luavm.yaml (if present) and the
// shared host flags, which take precedence over the file (SPEC_FULL
// ambient-stack supplement #5). Demos never go through VM.Load/SetCompiler
// - registry/asm already produced a Prototype, so the VM's external-compiler
// seam (§1/§6) has nothing to do here.
func newEngine(opts engineOptions) *vm.VM {
	v := vm.NewVM()

	if opts.configPath != "" {
		if cfg, err := config.Load(opts.configPath); err != nil {
			fmt.Fprintf(os.Stderr, "lua: %v\n", err)
		} else {
			cfg.Apply(v, defaultHook)
		}
	}

	if opts.maxCallDepth > 0 {
		v.SetMaxCallDepth(opts.maxCallDepth)
	}
	if opts.timeout > 0 {
		v.SetExecutionTimeout(opts.timeout)
	}
	if opts.profile {
		v.EnableProfiling(true)
	}
	return v
}

// defaultHook is the callback luavm.yaml's hook defaults drive when enabled:
// it just traces events to stderr, the same bare-bones shape the teacher's
// own debug facilities use for a default handler (§4.J).
func defaultHook(t *vm.Thread, event vm.HookEvent, line int32) {
	fmt.Fprintf(os.Stderr, "[hook] event=%d line=%d\n", event, line)
}

func runDemo(cmd *cli.Command, name string) error {
	d, ok := findDemo(name)
	if !ok {
		return fmt.Errorf("no such demo %q (see `lua list`)", name)
	}

	opts := readEngineOptions(cmd)
	engine := newEngine(opts)

	proto := d.build()
	closure := &vm.Closure{Proto: proto}

	results, err := engine.Call(values.Function(closure), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	for _, r := range results {
		fmt.Println(values.ToDisplayString(r))
	}

	if opts.profile {
		fmt.Println("---")
		fmt.Println(engine.ProfileReport())
		for _, hs := range engine.HotSpots(5) {
			fmt.Printf("  %s:%d %s x%d\n", hs.Proto, hs.IP, hs.Op, hs.Count)
		}
	}
	return nil
}

// runREPL is a stdin-driven loop over the demo catalog, grounded on the
// teacher's runInteractiveShell bufio.Scanner loop, with "list"/"exit"
// commands standing in for the teacher's multi-line PHP accumulation (there
// is no source text here to accumulate - each line names one demo to run).
func runREPL(cmd *cli.Command) error {
	opts := readEngineOptions(cmd)

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if interactive {
		fmt.Println("luavm demo shell. Type a demo name to run it, `list` to see them, `exit` to quit.")
	}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("lua> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Bye!")
			return nil
		case "list":
			for _, d := range demos {
				fmt.Printf("%-12s %s\n", d.name, d.description)
			}
			continue
		}

		d, ok := findDemo(line)
		if !ok {
			fmt.Printf("no such demo %q (try `list`)\n", line)
			continue
		}
		engine := newEngine(opts)
		results, err := engine.Call(values.Function(&vm.Closure{Proto: d.build()}), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		for _, r := range results {
			fmt.Println(values.ToDisplayString(r))
		}
	}
	return scanner.Err()
}
