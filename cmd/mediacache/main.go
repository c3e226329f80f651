// Command mediacache fetches media listings through a persistent
// stale-while-revalidate cache.
//
// Usage:
//
//	mediacache fetch <source> [key=value ...]
//	mediacache view <source> [key=value ...]
//	mediacache status <id> <status>
//	mediacache clear
//	mediacache logout
//	mediacache serve [-addr :8080]
//
// Configuration comes from MEDIACACHE_* environment variables and an
// optional .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonwraymond/mediacache/config"
)

var version = "dev"

var errUsage = errors.New("usage")

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"fetch":  {"fetch <source> [key=value ...]", runFetch},
	"view":   {"view <source> [key=value ...]", runView},
	"status": {"status <id> <status>", runStatus},
	"clear":  {"clear", runClear},
	"logout": {"logout", runLogout},
	"serve":  {"serve [-addr host:port]", runServe},
}

var commandOrder = []string{"fetch", "view", "status", "clear", "logout", "serve"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	name, rest := args[0], args[1:]
	switch name {
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return 0
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n", name)
		usage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.close(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(stderr, "Error: shutdown: %v\n", err)
		}
	}()

	if err := cmd.run(ctx, a, rest, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Usage: mediacache %s\n", cmd.usage)
			return 2
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mediacache <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}
