package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/runger/refkit/internal/choice"
)

var seedCmd = &cobra.Command{
	Use:     "seed <file.yaml>",
	Short:   "Load records into the local database",
	GroupID: groupSetup,
	Long: `Load records into the local database from a YAML file mapping each
resource to a list of records. Every record needs an id; existing records
with the same id are replaced.

  authors:
    - {id: 1, name: Leo}
    - {id: 2, name: Victor}
  tags:
    - {id: news, name: News, published: true}`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	if flagRemote {
		return errNeedsLocal
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed map[string][]choice.Choice
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	resources := make([]string, 0, len(seed))
	for r := range seed {
		resources = append(resources, r)
	}
	slices.Sort(resources)

	for _, resource := range resources {
		if err := b.local.Put(ctx, resource, seed[resource]...); err != nil {
			return fmt.Errorf("failed to seed %s: %w", resource, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s %s: %d records\n", colorGreen, colorReset, resource, len(seed[resource]))
	}
	return nil
}
