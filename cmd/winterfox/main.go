// winterfox is an autonomous research engine. It grows a persistent
// knowledge graph of research directions by running LLM-driven cycles:
// a Lead model picks where to dig, parallel workers research it on the
// live web, and their findings are merged back into the graph.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	workspaceDir string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "winterfox",
	Short: "Winterfox - autonomous research engine",
	Long: `Winterfox runs iterative research cycles against a persistent
knowledge graph. Each cycle selects the most promising direction,
dispatches parallel research agents with web tools, synthesizes their
findings, and folds the results back into the graph.

Start with 'winterfox init' to scaffold a workspace, then
'winterfox run' to research.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose event output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cyclesCmd)
}

// resolveWorkspace normalizes the --workspace flag to an absolute path.
func resolveWorkspace() (string, error) {
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		return "", fmt.Errorf("invalid workspace path %q: %w", workspaceDir, err)
	}
	return abs, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
