// Command lua is a demonstration host for the luavm bytecode core: it runs
// the hand-assembled sample programs in demos.go (registry/asm stands in for
// the lexer/parser/compiler this VM core deliberately omits) and prints
// whatever they print through the base library's print, grounded on the
// teacher's cmd/hey single-binary CLI shape (urfave/cli/v3 flags plus a
// stdin-driven interactive shell).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/wudi/luavm/version"
)

func main() {
	app := &cli.Command{
		Name:    "lua",
		Usage:   "luavm demo host: assemble and run sample Lua 5.4 bytecode programs",
		Version: version.Version(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "profile",
				Usage: "Enable per-instruction profiling and print a report after running",
			},
			&cli.IntFlag{
				Name:  "max-call-depth",
				Usage: "Override the non-tail-call recursion guard",
				Value: 0,
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Wall-clock execution budget in milliseconds (0 means unlimited)",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to an optional luavm.yaml host config (call-depth cap, package.path, hook defaults)",
				Value: "luavm.yaml",
			},
		},
		Commands: []*cli.Command{
			listCommand,
			runCommand,
			replCommand,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if name := cmd.Args().First(); name != "" {
				return runDemo(cmd, name)
			}
			return runREPL(cmd)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lua: %v\n", err)
		os.Exit(1)
	}
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "List the available demo programs",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		for _, d := range demos {
			fmt.Printf("%-12s %s\n", d.name, d.description)
		}
		return nil
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run one demo program by name",
	ArgsUsage: "<name>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		name := cmd.Args().First()
		if name == "" {
			return fmt.Errorf("usage: lua run <name> (see `lua list`)")
		}
		return runDemo(cmd, name)
	},
}

var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "Interactively pick and run demo programs",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return runREPL(cmd)
	},
}

// engineOptions reads the host-configuration flags shared by every command
// (SPEC_FULL ambient-stack supplement: profiling, call-depth guard, and an
// execution timeout are all host policy, not Lua-level concerns).
type engineOptions struct {
	profile      bool
	maxCallDepth int
	timeout      time.Duration
	configPath   string
}

func readEngineOptions(cmd *cli.Command) engineOptions {
	return engineOptions{
		profile:      cmd.Bool("profile"),
		maxCallDepth: int(cmd.Int("max-call-depth")),
		timeout:      time.Duration(cmd.Int("timeout")) * time.Millisecond,
		configPath:   cmd.String("config"),
	}
}
