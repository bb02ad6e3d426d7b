package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var (
	reportGenerate bool
	reportRaw      bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show or regenerate the narrative research report",
	Long: `Show the latest research report rendered for the terminal.

--generate synthesizes a fresh report from the current graph first;
--raw prints the stored Markdown without terminal rendering.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveWorkspace()
		if err != nil {
			return err
		}
		a, err := buildApp(dir)
		if err != nil {
			return err
		}
		defer a.Close()

		ws := a.cfg.Workspace.ID
		markdown, err := a.report.Latest(ws)
		if err != nil {
			return err
		}

		if reportGenerate || markdown == "" {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			fmt.Println(mutedStyle.Render("Synthesizing report..."))
			markdown, err = a.report.Generate(ctx, ws)
			if err != nil {
				return err
			}
		}

		if reportRaw {
			fmt.Println(markdown)
			return nil
		}

		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			fmt.Println(markdown)
			return nil
		}
		out, err := renderer.Render(markdown)
		if err != nil {
			fmt.Println(markdown)
			return nil
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVarP(&reportGenerate, "generate", "g", false, "regenerate the report before showing it")
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "print raw Markdown")
}
