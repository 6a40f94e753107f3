package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/refkit/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config [key] [value]",
	GroupID: groupSetup,
	Short:   "Get or set configuration values",
	Long: `Get or set refkit configuration values.

Without arguments, lists all configuration keys.
With one argument, shows the value of that key.
With two arguments, sets the key to the value.

Keys are in the format: section.key
Sections: daemon, store, reference, picker, i18n

Examples:
  refkit config                          # List all keys
  refkit config reference.per_page       # Get a value
  refkit config reference.per_page 50    # Set a value
  refkit config store.driver postgres`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	w := cmd.OutOrStdout()

	switch len(args) {
	case 0:
		return listConfig(w, cfg)
	case 1:
		return getConfig(w, cfg, args[0])
	default:
		return setConfig(w, cfg, args[0], args[1])
	}
}

// configFile is --config, $REFKIT_CONFIG or the default location.
func configFile() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("REFKIT_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPaths().ConfigFile()
}

func listConfig(w io.Writer, cfg *config.Config) error {
	fmt.Fprintf(w, "%sConfiguration Keys%s\n", colorBold, colorReset)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintln(w)

	var failedKeys []string
	for _, key := range config.ListKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			failedKeys = append(failedKeys, key)
			continue
		}
		if value == "" {
			value = colorDim + "(not set)" + colorReset
		}
		fmt.Fprintf(w, "  %s%s%s = %s\n", colorCyan, key, colorReset, value)
	}

	if len(failedKeys) > 0 {
		fmt.Fprintf(w, "\n%sWarning:%s Failed to retrieve keys: %s\n", colorYellow, colorReset, strings.Join(failedKeys, ", "))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Config file: %s\n", configFile())
	return nil
}

func getConfig(w io.Writer, cfg *config.Config, key string) error {
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}
	if value == "" {
		fmt.Fprintf(w, "%s(not set)%s\n", colorDim, colorReset)
	} else {
		fmt.Fprintln(w, value)
	}
	return nil
}

func setConfig(w io.Writer, cfg *config.Config, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	path := configFile()
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s%s%s = %s\n", colorCyan, key, colorReset, value)
	fmt.Fprintf(w, "Saved to: %s\n", path)
	return nil
}
