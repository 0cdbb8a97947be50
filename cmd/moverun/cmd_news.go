package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/moverun/internal/domain/market"
	atomicio "github.com/sawpanic/moverun/internal/io"
)

func newNewsCmd() *cobra.Command {
	var (
		symbol  string
		limit   int
		asJSON  bool
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Run one news aggregation pass and print the tagged articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e, err := buildEngine(cmd.Context(), cfg, engineOptions{skipExternal: true})
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.pipeline.RefreshNews(cmd.Context())
			if err != nil {
				return err
			}
			articles := e.cache.Recent(market.NormalizeSymbol(symbol), limit)
			if outPath != "" {
				if err := atomicio.WriteJSONAtomic(outPath, articles); err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), articles)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d fetched, %d new, %d merged\n", res.Fetched, res.Added, res.Merged)
			failed := make([]string, 0, len(res.Failed))
			for id, kind := range res.Failed {
				failed = append(failed, id+":"+string(kind))
			}
			sort.Strings(failed)
			if len(failed) > 0 {
				fmt.Fprintf(out, "failed sources: %s\n", strings.Join(failed, ", "))
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PUBLISHED\tSOURCE\tSYMBOLS\tSENTIMENT\tTITLE")
			for _, a := range articles {
				syms := make([]string, len(a.MatchedSymbols))
				for i, s := range a.MatchedSymbols {
					syms[i] = string(s)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.PublishedAt.Local().Format("Jan 02 15:04"),
					a.SourceID, strings.Join(syms, ","), a.Sentiment, a.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "only articles tagged with this symbol")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum articles to print")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print articles as JSON")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "also write the articles as JSON to this file")
	return cmd
}
