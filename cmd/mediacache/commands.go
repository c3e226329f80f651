package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonwraymond/mediacache/cache"
)

// listing is what fetch and view print.
type listing struct {
	Key     string       `json:"key"`
	Items   []cache.Item `json:"items"`
	Loading bool         `json:"loading,omitempty"`
	Error   string       `json:"error,omitempty"`
	Age     string       `json:"age,omitempty"`
	Stale   bool         `json:"stale,omitempty"`
}

func runFetch(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	wait := fs.Bool("wait", true, "wait for the background refresh of a fresh entry")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		return errUsage
	}
	source := fs.Arg(0)
	params, err := parseParams(fs.Args()[1:])
	if err != nil {
		return err
	}

	items := a.store.FetchMedia(ctx, source, params)
	if *wait {
		if err := a.store.Wait(ctx); err != nil {
			return err
		}
	}

	key := a.store.Key(source, params)
	out := listing{Key: key, Items: items, Error: a.store.Error(key)}
	if err := writeJSON(stdout, out); err != nil {
		return err
	}
	if out.Error != "" && len(items) == 0 {
		return fmt.Errorf("%s", out.Error)
	}
	return nil
}

func runView(_ context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	view := a.store.View(args[0], params)
	out := listing{
		Key:     view.Key(),
		Items:   view.Items(),
		Loading: view.Loading(),
		Error:   view.Error(),
	}
	if e, ok := a.store.Entry(view.Key()); ok {
		now := time.Now()
		out.Age = cache.Age(e, now).Round(time.Second).String()
		out.Stale = a.store.Policy().IsStale(&e, now)
	}
	if out.Items == nil {
		out.Items = []cache.Item{}
	}
	return writeJSON(stdout, out)
}

func runStatus(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) != 2 {
		return errUsage
	}
	n := a.store.UpdateStatus(ctx, args[0], args[1])
	fmt.Fprintf(stdout, "updated %d entries\n", n)
	return nil
}

func runClear(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "cache cleared")
	return nil
}

func runLogout(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "logged out")
	return nil
}

// parseParams turns key=value arguments into ordered params. Values that
// parse as JSON scalars keep their type, anything else is a string.
func parseParams(args []string) (cache.Params, error) {
	params := make(cache.Params, 0, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q: want key=value", arg)
		}
		params = append(params, cache.Param{Key: key, Value: paramValue(raw)})
	}
	return params, nil
}

func paramValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool, nil:
			return v
		}
	}
	return raw
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
