package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/provider"
)

func newFetchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL",
		Short: "Fetch one quote through the price fallback chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sym := market.NormalizeSymbol(args[0])
			if err := sym.Validate(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e, err := buildEngine(cmd.Context(), cfg, engineOptions{skipExternal: true})
			if err != nil {
				return err
			}
			defer e.Close()

			start := time.Now()
			sample, err := e.chain.FetchWithFallback(cmd.Context(), sym)
			if err != nil {
				var all *provider.AllSourcesFailedError
				if errors.As(err, &all) {
					printAttempts(cmd.OutOrStdout(), all)
				}
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sample)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s via %s at %s (%s)\n",
				sample.Symbol, sample.Price.StringFixed(2), sample.SourceID,
				sample.ObservedAt.Local().Format(time.RFC3339), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sample as JSON")
	return cmd
}

func printAttempts(w io.Writer, err *provider.AllSourcesFailedError) {
	fmt.Fprintf(w, "All sources failed for %s\n", err.Symbol)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSOURCE\tKIND\tTOOK\tERROR")
	for i, a := range err.Attempts {
		msg := ""
		if a.Err != nil {
			msg = a.Err.Error()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, a.Source, a.Kind, a.Duration.Round(time.Millisecond), msg)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
