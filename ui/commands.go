package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// ErrUsage is wrapped by Execute when a command line is malformed.
var ErrUsage = errors.New("usage")

const help = `commands:
  login <email> <password>
  register <email> <password>
  logout
  add <name> [qty] [category...]
  set <name> <qty>
  rm <name>
  search [term]
  ls
  quit`

// Help returns the command summary.
func Help() string { return help }

// Execute runs one command line. Names containing spaces can be quoted
// with double quotes.
func (c *Controller) Execute(ctx context.Context, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return ErrQuit
	case "help", "?":
		return nil
	case "login", "register":
		if len(args) != 2 {
			return usage("%s <email> <password>", cmd)
		}
		if cmd == "login" {
			return c.Login(ctx, args[0], args[1])
		}
		return c.Register(ctx, args[0], args[1])
	case "logout":
		return c.Logout(ctx)
	case "add":
		if len(args) < 1 {
			return usage("add <name> [qty] [category...]")
		}
		qty := int64(1)
		rest := args[1:]
		if len(rest) > 0 {
			if n, err := strconv.ParseInt(rest[0], 10, 64); err == nil {
				qty, rest = n, rest[1:]
			}
		}
		return c.Add(ctx, args[0], qty, strings.Join(rest, " "))
	case "set":
		if len(args) != 2 {
			return usage("set <name> <qty>")
		}
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return usage("set <name> <qty>: %q is not a number", args[1])
		}
		return c.SetQuantity(ctx, args[0], n)
	case "rm", "remove":
		if len(args) != 1 {
			return usage("rm <name>")
		}
		return c.Remove(ctx, args[0])
	case "search":
		c.Search(strings.Join(args, " "))
		return nil
	case "ls", "refresh":
		return c.Refresh(ctx)
	}
	return usage("unknown command %q", cmd)
}

func usage(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, a...))
}

// splitArgs splits on whitespace, keeping double-quoted runs together.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, usage("unterminated quote")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
