package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/allisonkarlitskaya/sdbus"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"
)

var globalArgs struct {
	JSON bool `flag:"json,Emit machine-readable JSON where supported"`
}

func main() {
	root := &command.C{
		Name:     "sdbus",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "sig",
				Usage: "sig args...",
				Commands: []*command.C{
					{
						Name:  "parse",
						Usage: "parse signature",
						Help: `Parse a type signature and print its structure.

Each top-level type prints as a tree: the typestring, the type kind,
and the contained types of containers.`,
						Run: command.Adapt(runSigParse),
					},
					{
						Name:  "check",
						Usage: "check signature...",
						Help:  "Report whether each argument is a valid type signature.",
						Run:   runSigCheck,
					},
				},
			},
			{
				Name:  "wire-name",
				Usage: "wire-name member...",
				Help: `Print the wire member name for in-process member names.

Member names split on underscores and capitalize each word, so
get_machine_id becomes GetMachineId.`,
				Run: runWireName,
			},
			{
				Name:  "introspect",
				Usage: "introspect [file]",
				Help: `Parse an introspection document and print its interfaces.

Reads the XML from the given file, or from stdin if no file is given.`,
				Run: runIntrospect,
			},
			{
				Name:  "variant",
				Usage: "variant json",
				Help: `Decode a JSON-encoded variant.

The input is the standard variant encoding: an object with a "t" key
holding the typestring and a "v" key holding the value.`,
				Run: command.Adapt(runVariant),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runSigParse(env *command.Env, sig string) error {
	types, err := sdbus.ParseSignature(sig)
	if err != nil {
		return err
	}
	for _, t := range types {
		printType(t, 0)
	}
	return nil
}

func printType(t *sdbus.Type, depth int) {
	fmt.Printf("%s%s (%s)\n", strings.Repeat("  ", depth), t, t.Kind())
	for _, item := range t.Items() {
		printType(item, depth+1)
	}
}

func runSigCheck(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("check requires at least one signature.")
	}
	type result struct {
		Signature string `json:"signature"`
		Valid     bool   `json:"valid"`
		Error     string `json:"error,omitempty"`
	}
	bad := false
	for _, sig := range env.Args {
		r := result{Signature: sig, Valid: true}
		if _, err := sdbus.ParseSignature(sig); err != nil {
			r.Valid = false
			r.Error = err.Error()
			bad = true
		}
		if globalArgs.JSON {
			bs, err := json.Marshal(r)
			if err != nil {
				return err
			}
			fmt.Println(string(bs))
		} else if r.Valid {
			fmt.Printf("%s: ok\n", sig)
		} else {
			fmt.Printf("%s: %s\n", sig, r.Error)
		}
	}
	if bad {
		return fmt.Errorf("some signatures are invalid")
	}
	return nil
}

func runWireName(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("wire-name requires at least one member name.")
	}
	for _, name := range env.Args {
		fmt.Printf("%s: %s\n", name, sdbus.WireName(name))
	}
	return nil
}

func runIntrospect(env *command.Env) error {
	var bs []byte
	var err error
	switch len(env.Args) {
	case 0:
		bs, err = io.ReadAll(os.Stdin)
	case 1:
		bs, err = os.ReadFile(env.Args[0])
	default:
		return env.Usagef("introspect takes at most one file.")
	}
	if err != nil {
		return fmt.Errorf("reading introspection document: %w", err)
	}

	desc, err := sdbus.ParseIntrospection(string(bs))
	if err != nil {
		return fmt.Errorf("parsing introspection document: %w", err)
	}
	for i, name := range slices.Sorted(maps.Keys(desc.Interfaces)) {
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(desc.Interfaces[name])
	}
	if len(desc.Children) > 0 {
		children := slices.Sorted(slices.Values(desc.Children))
		fmt.Println()
		fmt.Println("children:", strings.Join(children, " "))
	}
	return nil
}

func runVariant(env *command.Env, in string) error {
	var v sdbus.Variant
	if err := json.Unmarshal([]byte(in), &v); err != nil {
		return fmt.Errorf("decoding variant: %w", err)
	}
	if globalArgs.JSON {
		bs, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Println(string(bs))
		return nil
	}
	fmt.Printf("%s: %# v\n", v.Type, pretty.Formatter(v.Value))
	return nil
}
