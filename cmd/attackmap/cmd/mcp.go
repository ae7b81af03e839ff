package cmd

import (
	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the technique matcher to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		return mcpserver.New(version, rt.session).Serve()
	},
}
