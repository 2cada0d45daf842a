package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/registry"
)

type migrateOutput struct {
	Domain   string                 `json:"domain"`
	From     string                 `json:"from_version"`
	To       string                 `json:"to_version"`
	Original model.Payload          `json:"original_data"`
	Migrated model.Payload          `json:"migrated_data"`
	Outcome  model.MigrationOutcome `json:"outcome"`
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <domain> <from> <to>",
	Short: "Migrate a JSON payload between contract versions",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, _ := cmd.Flags().GetString("data")
		file, _ := cmd.Flags().GetString("file")
		require, _ := cmd.Flags().GetBool("require")

		payload, err := readPayload(data, file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		out, outcome, err := env.Registry.Migrate(ctx, registry.MigrateRequest{
			Domain:  args[0],
			From:    args[1],
			To:      args[2],
			Payload: payload,
			Require: require,
		})
		if err != nil {
			return eris.Wrapf(err, "migrate %s %s->%s", args[0], args[1], args[2])
		}

		return printJSON(cmd.OutOrStdout(), migrateOutput{
			Domain:   args[0],
			From:     args[1],
			To:       args[2],
			Original: payload,
			Migrated: out,
			Outcome:  outcome,
		})
	},
}

func init() {
	migrateCmd.Flags().String("data", "", "inline JSON payload")
	migrateCmd.Flags().String("file", "", "path to a JSON payload file (- for stdin)")
	migrateCmd.Flags().Bool("require", false, "fail when no migration path applies")
	rootCmd.AddCommand(migrateCmd)
}
