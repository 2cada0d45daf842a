package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contractml/internal/model"
)

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "Inspect and validate contract definitions",
}

// -- contracts list --

var contractsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discoverable contracts by domain",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEngine(cmd.Context(), cfg, "cli", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		domains, err := env.Registry.Domains()
		if err != nil {
			return eris.Wrap(err, "contracts list")
		}
		if len(domains) == 0 {
			fmt.Fprintf(os.Stderr, "No contracts found under %s.\n", env.Schemas.BasePath())
			return nil
		}
		formatDomains(cmd.OutOrStdout(), domains)
		return nil
	},
}

// -- contracts versions --

var contractsVersionsCmd = &cobra.Command{
	Use:   "versions <domain>",
	Short: "List a domain's versions in semantic order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), cfg, "cli", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		versions, err := env.Registry.AvailableVersions(args[0])
		if err != nil {
			return eris.Wrap(err, "contracts versions")
		}
		for _, v := range versions {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

// -- contracts latest --

var contractsLatestCmd = &cobra.Command{
	Use:   "latest <domain>",
	Short: "Print a domain's latest version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), cfg, "cli", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		latest, err := env.Registry.LatestVersion(args[0])
		if err != nil {
			return eris.Wrap(err, "contracts latest")
		}
		fmt.Fprintln(cmd.OutOrStdout(), latest)
		return nil
	},
}

// -- contracts validate --

var contractsValidateCmd = &cobra.Command{
	Use:   "validate <domain> <version>",
	Short: "Build a contract and run sample payloads through it",
	Long:  "Builds the contract, reporting schema errors, then prints its fields. With --payload, each sample in the file (a JSON object or array of objects) is executed and its result or error printed.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		payloadFile, _ := cmd.Flags().GetString("payload")

		env, err := initEngine(ctx, cfg, "cli", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Registry.Load(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrapf(err, "contracts validate %s/%s", args[0], args[1])
		}
		out := cmd.OutOrStdout()
		formatSchema(out, c.Schema(), c.Strict())

		if payloadFile == "" {
			return nil
		}
		raw, err := os.ReadFile(payloadFile)
		if err != nil {
			return eris.Wrapf(err, "read %s", payloadFile)
		}
		samples, err := parseSamples(raw)
		if err != nil {
			return err
		}

		failed := 0
		for i, sample := range samples {
			fmt.Fprintf(out, "\nSample %d: %s\n", i+1, compactJSON(sample))
			res, err := c.Execute(ctx, sample)
			if err != nil {
				failed++
				fmt.Fprintf(out, "  Error (%s): %v\n", model.ErrorKind(err), err)
				continue
			}
			fmt.Fprintf(out, "  Data: %s\n", compactJSON(res.Data))
			if res.Predictions != nil {
				fmt.Fprintf(out, "  Predictions: %s\n", compactJSON(res.Predictions))
			}
			fmt.Fprintf(out, "  Metadata: %s\n", compactJSON(res.Metadata))
		}
		fmt.Fprintf(out, "\n%d/%d samples passed\n", len(samples)-failed, len(samples))
		return nil
	},
}

func init() {
	contractsValidateCmd.Flags().String("payload", "", "JSON file with a sample payload or an array of samples")

	contractsCmd.AddCommand(contractsListCmd)
	contractsCmd.AddCommand(contractsVersionsCmd)
	contractsCmd.AddCommand(contractsLatestCmd)
	contractsCmd.AddCommand(contractsValidateCmd)
	rootCmd.AddCommand(contractsCmd)
}

// parseSamples accepts a single JSON object or an array of objects.
func parseSamples(raw []byte) ([]model.Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var samples []model.Payload
		if err := dec.Decode(&samples); err != nil {
			return nil, eris.Wrap(err, "decode samples")
		}
		return samples, nil
	}
	var one model.Payload
	if err := dec.Decode(&one); err != nil {
		return nil, eris.Wrap(err, "decode sample")
	}
	return []model.Payload{one}, nil
}

// formatDomains writes one row per domain with its versions.
func formatDomains(out io.Writer, domains map[string][]string) {
	names := make([]string, 0, len(domains))
	for d := range domains {
		names = append(names, d)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOMAIN\tVERSIONS\tLATEST")
	_, _ = fmt.Fprintln(w, "------\t--------\t------")
	for _, d := range names {
		versions := domains[d]
		latest := ""
		if len(versions) > 0 {
			latest = versions[len(versions)-1]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", d, strings.Join(versions, ", "), latest)
	}
	_ = w.Flush()
}

// formatSchema writes a contract's field table.
func formatSchema(out io.Writer, s *model.SchemaConfig, strict bool) {
	_, _ = fmt.Fprintf(out, "Contract %s/%s", s.Domain, s.Version)
	if strict {
		_, _ = fmt.Fprint(out, " (strict)")
	}
	_, _ = fmt.Fprintln(out)
	if s.Description != "" {
		_, _ = fmt.Fprintln(out, s.Description)
	}
	if s.Model != nil {
		_, _ = fmt.Fprintf(out, "Model: %s\n", s.Model.Path)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tTYPE\tRANGE\tDEFAULT\tREPAIR\tVALIDATION\tDRIFT")
	for _, f := range s.Fields {
		def := ""
		if f.HasDefault() {
			def = f.Default.String()
		} else if f.Required {
			def = "(required)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.Name, f.Type, formatRange(f.Min, f.Max), def,
			directiveKind(f.Repair), directiveKind(f.Validation), directiveKind(f.Drift))
	}
	_ = w.Flush()
}

func formatRange(lo, hi *float64) string {
	if lo == nil && hi == nil {
		return ""
	}
	bound := func(p *float64, open string) string {
		if p == nil {
			return open
		}
		return strconv.FormatFloat(*p, 'g', -1, 64)
	}
	return "[" + bound(lo, "-inf") + ", " + bound(hi, "+inf") + "]"
}

func directiveKind(d *model.Directive) string {
	if d == nil {
		return "-"
	}
	return d.Kind
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
