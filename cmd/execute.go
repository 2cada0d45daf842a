package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/registry"
)

var executeCmd = &cobra.Command{
	Use:   "execute <domain> <version>",
	Short: "Execute a contract against a JSON payload",
	Long:  "Validates and repairs a payload against a contract version. With --target, the payload is migrated to that version first; --latest targets the newest version.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, _ := cmd.Flags().GetString("data")
		file, _ := cmd.Flags().GetString("file")
		target, _ := cmd.Flags().GetString("target")
		latest, _ := cmd.Flags().GetBool("latest")
		require, _ := cmd.Flags().GetBool("require-migration")

		payload, err := readPayload(data, file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		var res *model.ExecutionResult
		if target != "" || latest {
			res, err = env.Registry.ExecuteWithMigration(ctx, registry.ExecuteRequest{
				Domain:           args[0],
				Version:          args[1],
				Payload:          payload,
				TargetVersion:    target,
				RequireMigration: require,
			})
		} else {
			res, err = env.Registry.Execute(ctx, args[0], args[1], payload)
		}
		if err != nil {
			return eris.Wrapf(err, "execute %s/%s", args[0], args[1])
		}

		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	executeCmd.Flags().String("data", "", "inline JSON payload")
	executeCmd.Flags().String("file", "", "path to a JSON payload file (- for stdin)")
	executeCmd.Flags().String("target", "", "migrate to this version before executing")
	executeCmd.Flags().Bool("latest", false, "migrate to the latest version before executing")
	executeCmd.Flags().Bool("require-migration", false, "fail instead of passing an unmigrated payload through")
	rootCmd.AddCommand(executeCmd)
}

// readPayload decodes a JSON object from the inline flag, a file, or stdin
// when file is "-". Numbers are kept as json.Number.
func readPayload(data, file string, stdin io.Reader) (model.Payload, error) {
	var r io.Reader
	switch {
	case data != "" && file != "":
		return nil, eris.New("use either --data or --file, not both")
	case data != "":
		r = bytes.NewReader([]byte(data))
	case file == "-":
		r = stdin
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "read payload %s", file)
		}
		r = bytes.NewReader(raw)
	default:
		return nil, eris.New("a payload is required (--data or --file)")
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var p model.Payload
	if err := dec.Decode(&p); err != nil {
		return nil, eris.Wrap(err, "decode payload")
	}
	if p == nil {
		p = model.Payload{}
	}
	return p, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
