package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runger/refkit/internal/controller"
	"github.com/runger/refkit/internal/query"
	"github.com/runger/refkit/internal/suggest"
)

var (
	suggestValue        string
	suggestCreate       bool
	suggestEmpty        bool
	suggestLimit        int
	suggestOnlySelected bool
)

var suggestCmd = &cobra.Command{
	Use:     "suggest <reference> [text]",
	Short:   "Show the suggestions a reference picker offers for typed text",
	GroupID: groupQuery,
	Long: `Show the suggestions a reference picker offers for typed text.

The candidates are fetched the way a reference input fetches them (the
text becomes the q filter), then narrowed client side. The current value,
given with --value, stays in the list even when it does not match.`,
	Example: `  refkit suggest authors le
  refkit suggest authors Ursula --create
  refkit suggest tags --value 3 --empty`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSuggest,
}

func init() {
	suggestCmd.Flags().StringVar(&suggestValue, "value", "", "id of the currently selected record")
	suggestCmd.Flags().BoolVar(&suggestCreate, "create", false, "offer to create a record from the text")
	suggestCmd.Flags().BoolVar(&suggestEmpty, "empty", false, "offer an empty choice")
	suggestCmd.Flags().IntVarP(&suggestLimit, "limit", "n", -1, "maximum suggestions (default from config)")
	suggestCmd.Flags().BoolVar(&suggestOnlySelected, "only-selected", false, "show only the selection when it matches the text")
}

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	reference, text := args[0], ""
	if len(args) > 1 {
		text = args[1]
	}
	var value any
	if suggestValue != "" {
		value = parseIDs([]string{suggestValue})[0]
	}

	props := controller.Props{
		Resource:   matchSource,
		Source:     "suggest",
		Reference:  reference,
		PerPage:    b.cfg.Reference.PerPage,
		Sort:       b.cfg.Sort(),
		AllowEmpty: suggestEmpty,
	}
	if text != "" {
		props.Filter = query.DefaultFilterToQuery(text)
	}

	acc := accessorFor(b.cfg, b.translator)
	redraw := make(chan struct{}, 1)
	in, err := controller.NewReferenceInput(props, controller.Options{
		Fetcher:    b.store,
		Creator:    b.creator,
		Translator: b.translator,
		Accessor:   acc,
		Redraw: func() {
			select {
			case redraw <- struct{}{}:
			default:
			}
		},
		Logger: b.logger,
	})
	if err != nil {
		return err
	}
	defer in.Close()

	in.Mount(nil, value)
	ready := func() bool {
		if in.View().IsLoading {
			return false
		}
		if value == nil {
			return true
		}
		_, lookup := b.store.Record(reference, value)
		return lookup.Settled()
	}
	if err := waitView(ctx, redraw, ready); err != nil {
		return err
	}

	view := in.View()
	if view.Error != "" {
		return fmt.Errorf("%s", view.Error)
	}
	if view.Warning != "" {
		warnf(cmd, "%s", view.Warning)
	}

	limit := suggestLimit
	if limit < 0 {
		limit = b.cfg.Reference.SuggestionLimit
	}
	selected := suggest.Single(in.Reference())
	engine := suggest.New(suggest.Options{
		Choices:             suggest.WithSelected(view.Choices, selected, acc),
		Accessor:            acc,
		Selected:            selected,
		AllowEmpty:          suggestEmpty,
		AllowCreate:         suggestCreate,
		LimitChoicesToValue: suggestOnlySelected,
		SuggestionLimit:     limit,
	})
	return printRecords(cmd.OutOrStdout(), acc, engine.Suggestions(text))
}

// waitView blocks until ready reports true, re-checking on every redraw.
func waitView(ctx context.Context, redraw <-chan struct{}, ready func() bool) error {
	for !ready() {
		select {
		case <-redraw:
		case <-ctx.Done():
			return fmt.Errorf("waiting for choices: %w", ctx.Err())
		}
	}
	return nil
}
