package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sawpanic/moverun/internal/ui/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		target   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Terminal dashboard over a running instance's HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				target = "http://" + cfg.HTTP.Addr
			}
			model := watch.NewModel(watch.NewClient(target, interval), interval)
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "API base URL (default http://<http.addr>)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}
