package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/i18n"
)

// accessorFor builds the choice accessor from the reference settings.
func accessorFor(cfg *config.Config, tr i18n.Translator) choice.Accessor {
	acc := choice.NewAccessor(tr)
	if cfg.Reference.OptionText != "" {
		acc.OptionText = choice.Path(cfg.Reference.OptionText)
	}
	acc.OptionValue = cfg.Reference.OptionValue
	return acc
}

// printRecords writes one line per record: the value column, then the
// text clipped to the terminal. With --json each record is a JSON line.
func printRecords(w io.Writer, acc choice.Accessor, records []choice.Choice) error {
	if flagJSON {
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
		}
		return nil
	}

	idWidth := 0
	for _, r := range records {
		idWidth = max(idWidth, runewidth.StringWidth(choice.Key(acc.Value(r))))
	}
	textWidth := max(termWidth()-idWidth-2, 10)

	for _, r := range records {
		id := choice.Key(acc.Value(r))
		text := strings.Join(strings.Fields(acc.Text(r).String()), " ")
		text = runewidth.Truncate(text, textWidth, "…")
		color := ""
		if acc.Disabled(r) {
			color = colorDim
		}
		fmt.Fprintf(w, "%s%s%s  %s%s%s\n",
			colorCyan, runewidth.FillRight(id, idWidth), colorReset,
			color, text, colorReset)
	}
	return nil
}
