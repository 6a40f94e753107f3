package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/query"
	"github.com/runger/refkit/internal/refstore"
)

// matchSource is the source under which CLI listings are stored.
const matchSource = "cli"

var (
	matchFilter  string
	matchSort    string
	matchPage    int
	matchPerPage int
)

var getCmd = &cobra.Command{
	Use:     "get <resource> <id>",
	Short:   "Fetch one record",
	GroupID: groupQuery,
	Example: `  refkit get authors 1
  refkit --remote --json get tags news`,
	Args: cobra.ExactArgs(2),
	RunE: runGet,
}

var manyCmd = &cobra.Command{
	Use:     "many <resource> <id>...",
	Short:   "Fetch several records in one request",
	GroupID: groupQuery,
	Long: `Fetch several records of one resource in one request.

Ids may be separated by spaces or commas. Ids that do not exist are
reported on stderr; the command fails only when none was found.`,
	Example: `  refkit many tags 1,2,3`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runMany,
}

var matchCmd = &cobra.Command{
	Use:     "match <resource>",
	Short:   "List the records a reference input would offer",
	GroupID: groupQuery,
	Long: `List one page of records, filtered and sorted the way a reference
input asks for its choices.

The filter is a shell-quoted list of field=value pairs. The q field is a
full-text search.`,
	Example: `  refkit match authors --filter 'q="le"'
  refkit match tags --filter 'published=true' --sort name,ASC --per-page 5`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringVarP(&matchFilter, "filter", "f", "", "filter expression (field=value ...)")
	matchCmd.Flags().StringVarP(&matchSort, "sort", "s", "", "sort as field[,ASC|DESC] (default from config)")
	matchCmd.Flags().IntVarP(&matchPage, "page", "p", 1, "page number")
	matchCmd.Flags().IntVarP(&matchPerPage, "per-page", "n", 0, "page size (default from config)")
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	resource, id := args[0], parseIDs(args[1:2])[0]
	err = await(ctx, b.store,
		func() { b.store.FetchReference(resource, id) },
		func() bool { _, l := b.store.Record(resource, id); return l.Settled() })
	if err != nil {
		return err
	}

	rec, lookup, err := b.store.RecordErr(resource, id)
	switch lookup {
	case refstore.LookupFound:
		return printRecords(cmd.OutOrStdout(), accessorFor(b.cfg, b.translator), []choice.Choice{rec})
	case refstore.LookupMissing:
		return fmt.Errorf("%s %v: %w", resource, id, dataprovider.ErrNotFound)
	default:
		return fmt.Errorf("failed to fetch %s %v: %w", resource, id, err)
	}
}

func runMany(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	resource, ids := args[0], parseIDs(args[1:])
	settled := func() bool {
		for _, id := range ids {
			if _, l := b.store.Record(resource, id); !l.Settled() {
				return false
			}
		}
		return true
	}
	if err := await(ctx, b.store, func() { b.store.FetchReferences(resource, ids) }, settled); err != nil {
		return err
	}

	var (
		found   []choice.Choice
		missing []string
		failure error
	)
	for _, id := range ids {
		rec, lookup, err := b.store.RecordErr(resource, id)
		switch lookup {
		case refstore.LookupFound:
			found = append(found, rec)
		case refstore.LookupFailed:
			failure = err
		default:
			missing = append(missing, choice.Key(id))
		}
	}
	if failure != nil {
		return fmt.Errorf("failed to fetch %s: %w", resource, failure)
	}
	if len(found) == 0 {
		return errors.New(translate(b.translator, i18n.KeyAllMissing))
	}
	if len(missing) > 0 {
		warnf(cmd, "%s (%s)", translate(b.translator, i18n.KeyManyMissing), strings.Join(missing, ", "))
	}
	return printRecords(cmd.OutOrStdout(), accessorFor(b.cfg, b.translator), found)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	params, err := matchParams(b)
	if err != nil {
		return err
	}
	resource := args[0]
	key := refstore.MatchKey(resource, matchSource)
	err = await(ctx, b.store,
		func() { b.store.FetchMatching(resource, key, params) },
		func() bool { return b.store.Matching(key).Settled() })
	if err != nil {
		return err
	}

	state := b.store.Matching(key)
	if state.Err != nil {
		return fmt.Errorf("failed to list %s: %w", resource, state.Err)
	}
	records := state.Items
	if len(records) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s%s%s\n", colorDim, translate(b.translator, i18n.KeyNoResults), colorReset)
		return nil
	}
	if err := printRecords(cmd.OutOrStdout(), accessorFor(b.cfg, b.translator), records); err != nil {
		return err
	}
	if !flagJSON {
		last := params.Pagination.Offset() + len(records)
		fmt.Fprintf(cmd.ErrOrStderr(), "%s%d-%d of %d%s\n", colorDim, params.Pagination.Offset()+1, last, state.Total, colorReset)
	}
	return nil
}

// matchParams builds list params from the match flags and the config.
func matchParams(b *backend) (query.Params, error) {
	sort := b.cfg.Sort()
	if matchSort != "" {
		var err error
		if sort, err = parseSort(matchSort); err != nil {
			return query.Params{}, err
		}
	}
	filter, err := parseFilter(matchFilter)
	if err != nil {
		return query.Params{}, err
	}
	perPage := matchPerPage
	if perPage <= 0 {
		perPage = b.cfg.Reference.PerPage
	}
	params := query.New(perPage, sort, filter)
	if matchPage > 1 {
		params.Pagination.Page = matchPage
	}
	return params, nil
}

func translate(tr i18n.Translator, key string) string {
	return tr.Translate(key, i18n.Params{i18n.DefaultKey: key})
}
