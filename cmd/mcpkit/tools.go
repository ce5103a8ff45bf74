package main

import (
	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/pkg/config"
	"github.com/mcpkit/mcpkit/pkg/output"
	"github.com/mcpkit/mcpkit/pkg/registry"
	"github.com/mcpkit/mcpkit/pkg/tools/echo"
)

var toolsCmd = &cobra.Command{
	Use:   "tools <config>",
	Short: "List the tools the server would register",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTools(args[0])
	},
}

func runTools(configPath string) error {
	// Loading validates the config even though only the tool set matters
	// here; a broken config should fail fast, same as serve.
	if _, err := config.Load(configPath); err != nil {
		return err
	}

	reg := registry.New(nil)
	defer reg.Shutdown()
	if _, err := reg.Register(echo.New()); err != nil {
		return err
	}

	printer := output.New()
	printer.Tools(reg.List())
	return nil
}
