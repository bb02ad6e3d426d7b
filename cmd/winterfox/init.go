package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"winterfox/internal/config"
)

var initMission string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a workspace with a default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveWorkspace()
		if err != nil {
			return err
		}

		if _, err := os.Stat(config.Path(dir)); err == nil {
			return fmt.Errorf("workspace already initialized: %s", config.Path(dir))
		}

		cfg := config.DefaultConfig(dir)
		cfg.Workspace.ID = filepath.Base(dir)
		cfg.Mission = strings.TrimSpace(initMission)
		if err := cfg.Save(); err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.Workspace.ContextDir, 0o755); err != nil {
			return err
		}

		fmt.Println(okStyle.Render("Initialized workspace " + cfg.Workspace.ID))
		fmt.Printf("  config:  %s\n", config.Path(dir))
		fmt.Printf("  context: %s\n", cfg.Workspace.ContextDir)
		if cfg.Mission == "" {
			fmt.Println(mutedStyle.Render("Set a mission in the config (or WINTERFOX_MISSION) before running."))
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&initMission, "mission", "m", "", "research mission statement")
}
