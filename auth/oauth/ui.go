package oauth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// TerminalUI prompts for a domain name on a terminal (or any reader/writer pair).
type TerminalUI struct {
	In  io.Reader
	Out io.Writer

	// Number of times to re-prompt after a failed submit
	Retries int
}

var _ UI = (*TerminalUI)(nil)

func NewTerminalUI(in io.Reader, out io.Writer) *TerminalUI {
	return &TerminalUI{
		In:      in,
		Out:     out,
		Retries: 2,
	}
}

type lineResult struct {
	line string
	err  error
}

func (t *TerminalUI) Open(ctx context.Context, opts UIOptions) (*AuthorizeRequest, error) {
	scanner := bufio.NewScanner(t.In)
	var lastErr error
	for attempt := 0; attempt <= t.Retries; attempt++ {
		if opts.DefaultValue != "" {
			fmt.Fprintf(t.Out, "Domain name [%s]: ", opts.DefaultValue)
		} else {
			fmt.Fprint(t.Out, "Domain name: ")
		}

		lines := make(chan lineResult, 1)
		go func() {
			if scanner.Scan() {
				lines <- lineResult{line: scanner.Text()}
				return
			}
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			lines <- lineResult{err: err}
		}()

		var res lineResult
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-lines:
		}
		if res.err != nil {
			return nil, fmt.Errorf("reading domain name: %w", res.err)
		}

		username := strings.TrimSpace(res.line)
		if username == "" {
			username = opts.DefaultValue
		}
		if username == "" {
			fmt.Fprintln(t.Out, "A domain name is required.")
			lastErr = ErrNoUsername
			continue
		}

		req, err := opts.Submit(ctx, username)
		if err == nil {
			return req, nil
		}
		fmt.Fprintf(t.Out, "Login failed: %s\n", err)
		lastErr = err
	}
	return nil, lastErr
}

func (t *TerminalUI) Close() {}
