package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/compiler"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.yaml>",
	Short: "Check a workflow definition for duplicate IDs, dangling dependencies, and cycles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := compiler.LoadFile(args[0])
		if err != nil {
			return err
		}

		order, err := def.Validate()
		if err != nil {
			return err
		}

		fmt.Printf("workflow %q is valid: %d tasks, execution order %v\n", def.ID, len(def.Tasks), order)
		return nil
	},
}
