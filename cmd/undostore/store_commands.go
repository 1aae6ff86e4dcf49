package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"undostore/internal/codec"
	"undostore/internal/console"
	"undostore/internal/store"
)

func registerStoreCommands(reg console.CommandRegistrar, s *store.Store) {
	if s == nil {
		return
	}

	reg.Register("/get", console.Command{
		Usage:   "/get <key>",
		Help:    "show the value stored under key",
		Handler: handleGet(s),
	})

	reg.Register("/set", console.Command{
		Usage:   "/set <key> <json>",
		Help:    "store a value (text that is not JSON is stored as a string)",
		Handler: handleSet(s),
	})

	reg.Register("/pop", console.Command{
		Usage:   "/pop <key>",
		Help:    "remove key and show its value",
		Handler: handlePop(s),
	})

	reg.Register("/has", console.Command{
		Usage:   "/has <key>",
		Help:    "report whether key is present",
		Handler: handleHas(s),
	})

	reg.Register("/keys", console.Command{
		Help:    "list keys in sorted order",
		Handler: handleKeys(s),
	})

	reg.Register("/len", console.Command{
		Help:    "show the number of keys",
		Handler: handleLen(s),
	})

	reg.Register("/commit", console.Command{
		Help:    "persist the current state and clear the undo log",
		Handler: handleCommit(s),
	})

	reg.Register("/revert", console.Command{
		Usage:   "/revert [n]",
		Help:    "undo the last n changes (all uncommitted changes when n is omitted)",
		Handler: handleRevert(s),
	})

	reg.Register("/describe", console.Command{
		Help:    "dump location, data and pending undo entries",
		Handler: handleDescribe(s),
	})
}

func handleGet(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		if len(ctx.Args) == 0 {
			_, _ = fmt.Fprint(ctx.Out, "Usage: /get <key>\r\n")
			return false
		}
		key := ctx.Args[0]
		v, err := s.Lookup(ctx.Ctx, key)
		switch {
		case errors.Is(err, store.ErrKeyAbsent):
			_, _ = fmt.Fprintf(ctx.Out, "%s: not found\r\n", key)
		case err != nil:
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
		default:
			_, _ = fmt.Fprintf(ctx.Out, "%s = %s\r\n", key, render(v))
		}
		return false
	}
}

func handleSet(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		if len(ctx.Args) < 2 {
			_, _ = fmt.Fprint(ctx.Out, "Usage: /set <key> <json>\r\n")
			return false
		}
		key := ctx.Args[0]
		v := parseValue(ctx.Tail(1))
		if err := s.Set(ctx.Ctx, key, v); err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
			return false
		}
		_, _ = fmt.Fprintf(ctx.Out, "Set %s = %s\r\n", key, render(v))
		return false
	}
}

func handlePop(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		if len(ctx.Args) == 0 {
			_, _ = fmt.Fprint(ctx.Out, "Usage: /pop <key>\r\n")
			return false
		}
		key := ctx.Args[0]
		v, err := s.Remove(ctx.Ctx, key)
		switch {
		case errors.Is(err, store.ErrKeyAbsent):
			_, _ = fmt.Fprintf(ctx.Out, "%s: not found\r\n", key)
		case err != nil:
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
		default:
			_, _ = fmt.Fprintf(ctx.Out, "Popped %s = %s\r\n", key, render(v))
		}
		return false
	}
}

func handleHas(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		if len(ctx.Args) == 0 {
			_, _ = fmt.Fprint(ctx.Out, "Usage: /has <key>\r\n")
			return false
		}
		ok, err := s.Contains(ctx.Ctx, ctx.Args[0])
		if err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
			return false
		}
		_, _ = fmt.Fprintf(ctx.Out, "%s: %t\r\n", ctx.Args[0], ok)
		return false
	}
}

func handleKeys(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		keys, err := s.Keys(ctx.Ctx)
		if err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
			return false
		}
		if len(keys) == 0 {
			_, _ = fmt.Fprint(ctx.Out, "Keys: (empty)\r\n")
			return false
		}
		_, _ = fmt.Fprintf(ctx.Out, "Keys (%d):\r\n", len(keys))
		for _, k := range keys {
			_, _ = fmt.Fprintf(ctx.Out, "  %s\r\n", k)
		}
		return false
	}
}

func handleLen(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		n, err := s.Len(ctx.Ctx)
		if err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
			return false
		}
		_, _ = fmt.Fprintf(ctx.Out, "%d\r\n", n)
		return false
	}
}

func handleCommit(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		if err := s.Commit(ctx.Ctx); err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
			return false
		}
		_, _ = fmt.Fprintf(ctx.Out, "Committed to %s\r\n", s.Location())
		return false
	}
}

func handleRevert(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		n := 0
		if len(ctx.Args) > 0 {
			var err error
			n, err = strconv.Atoi(ctx.Args[0])
			if err != nil || n < 1 {
				_, _ = fmt.Fprint(ctx.Out, "Usage: /revert [n] (n must be a positive integer)\r\n")
				return false
			}
		}
		undone, err := s.Revert(ctx.Ctx, n)
		if err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
			return false
		}
		_, _ = fmt.Fprintf(ctx.Out, "Reverted %d change(s)\r\n", undone)
		return false
	}
}

func handleDescribe(s *store.Store) console.CommandHandler {
	return func(ctx console.CommandContext) bool {
		d, err := s.Describe(ctx.Ctx)
		if err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
			return false
		}
		_, _ = fmt.Fprint(ctx.Out, strings.ReplaceAll(d.String(), "\n", "\r\n"), "\r\n")
		return false
	}
}

// parseValue decodes raw as JSON, falling back to the literal text.
func parseValue(raw string) any {
	v, err := codec.DecodeValue([]byte(raw))
	if err != nil {
		return raw
	}
	return v
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
