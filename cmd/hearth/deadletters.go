package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

var errUsage = errors.New("usage: hearth dead-letters [resolve ID]")

// deadLetters lists unresolved dead letters or resolves one by id.
func (a *app) deadLetters(ctx context.Context, out io.Writer, args []string) error {
	switch {
	case len(args) == 0:
		return a.listDeadLetters(ctx, out)
	case len(args) == 2 && args[0] == "resolve":
		if err := a.store.ResolveDeadLetter(ctx, args[1], time.Now().UTC()); err != nil {
			return fmt.Errorf("resolve %s: %w", args[1], err)
		}
		_, err := fmt.Fprintf(out, "resolved %s\n", args[1])
		return err
	default:
		return errUsage
	}
}

func (a *app) listDeadLetters(ctx context.Context, out io.Writer) error {
	letters, err := a.store.ListDeadLetters(ctx, true)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tTYPE\tCREATED\tERROR")
	for _, d := range letters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.ExternalID, d.Type, d.CreatedAt.Format(time.RFC3339), d.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	a.log.InfoContext(ctx, "listed dead letters", "count", len(letters))
	return nil
}
