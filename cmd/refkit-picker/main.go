// refkit-picker is a terminal reference picker. It prints the id of the
// chosen record on stdout, for use as $(refkit-picker authors).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/controller"
	"github.com/runger/refkit/internal/daemon"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/dataprovider/remote"
	"github.com/runger/refkit/internal/dataprovider/sqlstore"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/picker"
	"github.com/runger/refkit/internal/refstore"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes:
//
//	0 = selection made (use the result)
//	1 = cancelled by user (keep the current value)
//	2 = picker unavailable (no TTY, bad arguments, backend error)
const (
	exitSuccess   = 0
	exitCancelled = 1
	exitFallback  = 2
)

// maxQueryLen is the maximum length of the initial query in bytes.
const maxQueryLen = 4096

// pickerOpts holds the parsed command line.
type pickerOpts struct {
	reference string
	resource  string
	source    string
	value     string
	query     string
	create    bool
	empty     bool
	limit     int
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the main entry point, returning an exit code.
func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitFallback
	}
	switch args[0] {
	case "--help", "-h":
		printUsage()
		return exitSuccess
	case "--version", "-v":
		printVersion()
		return exitSuccess
	}

	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: %v\n", err)
		return exitFallback
	}

	if err := checkTTY(); err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: %v\n", err)
		return exitFallback
	}
	if err := checkTERM(); err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: %v\n", err)
		return exitFallback
	}
	if err := checkTermWidth(); err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: %v\n", err)
		return exitFallback
	}

	paths := config.DefaultPaths()
	if err := os.MkdirAll(paths.RuntimeDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: failed to create runtime directory: %v\n", err)
		return exitFallback
	}
	lock, err := acquireLock(paths.PickerLockFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: %v\n", err)
		return exitFallback
	}
	defer releaseLock(lock)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: failed to load config: %v\n", err)
		return exitFallback
	}
	if opts.limit == 0 {
		opts.limit = cfg.Reference.SuggestionLimit
	}
	if !opts.create {
		opts.create = cfg.Picker.AllowCreate
	}
	if !opts.empty {
		opts.empty = cfg.Picker.AllowEmpty
	}

	return dispatch(cfg, paths, opts)
}

// parseFlags reads "<reference> [flags]".
func parseFlags(args []string) (*pickerOpts, error) {
	opts := &pickerOpts{reference: args[0]}
	if strings.HasPrefix(opts.reference, "-") {
		return nil, fmt.Errorf("missing reference resource before flags")
	}

	fs := flag.NewFlagSet("refkit-picker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.resource, "resource", "picker", "resource of the record being edited")
	fs.StringVar(&opts.source, "source", "", "field being edited (default <reference>_id)")
	fs.StringVar(&opts.value, "value", "", "id of the currently selected record")
	fs.StringVar(&opts.query, "query", "", "initial search text (max 4096 bytes)")
	fs.BoolVar(&opts.create, "create", false, "offer to create a record from the search text")
	fs.BoolVar(&opts.empty, "empty", false, "offer an empty choice")
	fs.IntVar(&opts.limit, "limit", 0, "maximum suggestions (default from config)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: refkit-picker <reference> [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if opts.limit < 0 {
		return nil, fmt.Errorf("--limit must be a positive integer")
	}
	if opts.source == "" {
		opts.source = opts.reference + "_id"
	}

	q, err := sanitizeQuery(opts.query)
	if err != nil {
		return nil, fmt.Errorf("--query: %w", err)
	}
	opts.query = q
	return opts, nil
}

// sanitizeQuery strips control characters and bounds the query length.
func sanitizeQuery(q string) (string, error) {
	if q == "" {
		return "", nil
	}
	if strings.ContainsAny(q, "\n\r") {
		return "", fmt.Errorf("query must not contain newlines")
	}
	var b strings.Builder
	b.Grow(len(q))
	for _, r := range q {
		if r <= 0x1F && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	result := b.String()
	if len(result) > maxQueryLen {
		result = result[:maxQueryLen]
	}
	return result, nil
}

// parseValue keeps numeric ids numeric.
func parseValue(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// openProvider prefers the running daemon and falls back to the local
// database.
func openProvider(ctx context.Context, cfg *config.Config, paths *config.Paths, logger *slog.Logger) (dataprovider.Provider, func(), error) {
	if daemon.IsRunning(paths) {
		conn, err := remote.Dial(cfg.SocketPath())
		if err == nil {
			return remote.NewClient(conn), func() { conn.Close() }, nil
		}
		debugLog("daemon not reachable, using local database: %v", err)
	}
	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: cfg.Store.Driver,
		DSN:    cfg.DSN(),
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

func loadTranslator(cfg *config.Config) i18n.Translator {
	cat := i18n.English()
	if path := cfg.CatalogPath(); path != "" {
		if err := cat.LoadFile(path); err != nil {
			debugLog("using built-in messages: %v", err)
		}
	}
	return cat
}

// dispatch runs the Bubble Tea picker on /dev/tty.
func dispatch(cfg *config.Config, paths *config.Paths, opts *pickerOpts) int {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if os.Getenv("REFKIT_DEBUG") == "1" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	provider, closeProvider, err := openProvider(ctx, cfg, paths, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: %v\n", err)
		return exitFallback
	}
	defer closeProvider()

	store := refstore.New(provider, refstore.Options{
		BatchWindow: cfg.BatchWindow(),
		CacheSize:   cfg.Store.CacheSize,
		Logger:      logger,
	})
	defer store.Close()

	tr := loadTranslator(cfg)
	acc := choice.NewAccessor(tr)
	if cfg.Reference.OptionText != "" {
		acc.OptionText = choice.Path(cfg.Reference.OptionText)
	}
	acc.OptionValue = cfg.Reference.OptionValue

	redraw := make(chan struct{}, 1)
	creator, _ := provider.(dataprovider.Creator)
	in, err := controller.NewReferenceInput(controller.Props{
		Resource:   opts.resource,
		Source:     opts.source,
		Reference:  opts.reference,
		PerPage:    cfg.Reference.PerPage,
		Sort:       cfg.Sort(),
		AllowEmpty: opts.empty,
	}, controller.Options{
		Fetcher:    store,
		Creator:    creator,
		Translator: tr,
		Accessor:   acc,
		Debounce:   cfg.Debounce(),
		Redraw: func() {
			select {
			case redraw <- struct{}{}:
			default:
			}
		},
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: %v\n", err)
		return exitFallback
	}
	defer in.Close()
	in.Mount(nil, parseValue(opts.value))

	model := picker.NewModel(in, redraw, picker.Options{
		Accessor:        acc,
		AllowCreate:     opts.create && creator != nil,
		SuggestionLimit: opts.limit,
		Prompt:          cfg.Picker.Prompt,
	})
	if opts.query != "" {
		model = model.WithQuery(opts.query)
	}

	// stdout carries the result, so the TUI talks to the terminal directly.
	tty, err := openTTY()
	if err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: cannot open terminal: %v\n", err)
		return exitFallback
	}
	defer tty.Close()

	// Detect colors on the terminal, not on the stdout pipe.
	lipgloss.SetColorProfile(termenv.NewOutput(tty).ColorProfile())

	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithInput(tty),
		tea.WithOutput(tty),
	)
	finalModel, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "refkit-picker: TUI error: %v\n", err)
		return exitFallback
	}

	m, ok := finalModel.(picker.Model)
	if !ok {
		fmt.Fprintln(os.Stderr, "refkit-picker: unexpected model type")
		return exitFallback
	}
	if m.IsCancelled() {
		return exitCancelled
	}
	if result, chosen := m.Result(); chosen {
		if !choice.IsEmptyID(result) {
			fmt.Fprintln(os.Stdout, choice.Key(result))
		}
		return exitSuccess
	}
	return exitCancelled
}

// debugLog logs a message to stderr when REFKIT_DEBUG=1.
func debugLog(format string, args ...any) {
	if os.Getenv("REFKIT_DEBUG") == "1" {
		fmt.Fprintf(os.Stderr, "refkit-picker: debug: "+format+"\n", args...)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: refkit-picker <reference> [flags]

Pick a record of the <reference> resource and print its id.

Flags:
  --value    id of the current selection
  --query    initial search text
  --create   offer to create a record from the search text
  --empty    offer an empty choice
  --help     Show this help message
  --version  Print version information`)
}

func printVersion() {
	fmt.Printf("refkit-picker %s\n", Version)
	fmt.Printf("  commit: %s\n", GitCommit)
	fmt.Printf("  built:  %s\n", BuildDate)
}
