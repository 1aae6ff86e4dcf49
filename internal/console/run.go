package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"

	"undostore/internal/logging"
)

var logger = logging.For("console")

// RunTerminal drives the registry from an interactive terminal with line
// editing and history. rw is typically a raw-mode stdin/stdout pair.
// It returns nil on /quit or end of input.
func RunTerminal(ctx context.Context, rw io.ReadWriter, prompt string, reg *CommandRegistry) error {
	terminal := term.NewTerminal(rw, prompt)
	if w, h, err := termSize(rw); err == nil {
		_ = terminal.SetSize(w, h)
	}
	return loop(ctx, terminal.ReadLine, terminal, reg)
}

// Run drives the registry from a plain line reader, for piped input.
func Run(ctx context.Context, in io.Reader, out io.Writer, reg *CommandRegistry) error {
	sc := bufio.NewScanner(in)
	read := func() (string, error) {
		if sc.Scan() {
			return sc.Text(), nil
		}
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return loop(ctx, read, out, reg)
}

func loop(ctx context.Context, read func() (string, error), out io.Writer, reg *CommandRegistry) error {
	reg.Freeze()
	_, _ = fmt.Fprint(out, "Type /help for commands.\r\n")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			logger.Error("reading console input", "err", err)
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			_, _ = fmt.Fprint(out, "Commands start with / (try /help)\r\n")
			continue
		}
		if reg.Dispatch(ctx, line, out) {
			return nil
		}
	}
}

// termSize reports the size of rw when it is backed by a terminal file
// descriptor.
func termSize(rw io.ReadWriter) (int, int, error) {
	f, ok := rw.(interface{ Fd() uintptr })
	if !ok {
		return 0, 0, errors.New("not a terminal")
	}
	return term.GetSize(int(f.Fd()))
}
