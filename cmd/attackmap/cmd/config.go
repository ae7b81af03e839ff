package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/mapper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with every default filled in",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		var defaults mapper.Config
		defaults.ApplyDefaults()
		if err := mapper.SaveConfig(path, defaults); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", orDefault(path, "config.json"))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
