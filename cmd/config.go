package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/config"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage devswitch configuration settings and profiles.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show which values come from the selected profile",
	Long:  `Display the resolved configuration keys with inheritance indicators. Shows which values are inherited from default vs profile-specific.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("=== RESOLVED CONFIGURATION ===\n")
		fmt.Printf("file: %s\n", cfgFile)
		fmt.Printf("engine backends compiled in: %v\n\n", audio.GetAvailableBackends())

		keys := make([]string, 0, len(cfg.Inheritance))
		for k := range cfg.Inheritance {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) == 0 {
			fmt.Println("all values are built-in defaults")
			return nil
		}
		for _, k := range keys {
			fmt.Printf("%s %s\n", k, getInheritanceIndicator(cfg.Inheritance[k]))
		}
		return nil
	},
}

var configProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configuration profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := config.ListProfiles(cfgFile)
		if err != nil {
			return err
		}
		root, err := config.ValidateConfigurationFormat(cfgFile)
		if err != nil {
			return err
		}
		for _, p := range profiles {
			marker := " "
			if p == root.ActiveConfig {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, p)
		}
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <profile>",
	Short: "Set the active profile in the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		fmt.Printf("active_config set to '%s' in %s\n", args[0], cfgFile)
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}

		fmt.Printf("Opening %s with %s...\n", cfgFile, editor)
		c := exec.Command(editor, cfgFile)
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor failed: %w", err)
		}

		if _, err := config.ValidateConfigurationFormat(cfgFile); err != nil {
			return fmt.Errorf("configuration is invalid after editing: %w", err)
		}
		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[built-in]"
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInfoCmd)
	configCmd.AddCommand(configProfilesCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configEditCmd)
}
