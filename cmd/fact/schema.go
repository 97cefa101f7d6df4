package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bahamondeX/fact/src/rag"
	"github.com/bahamondeX/fact/src/runtime"
)

func (a *app) schemaCmd() *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the tool definition, or create the store's index with --create",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if create {
				return a.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
					if err := rt.CreateSchema(ctx); err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "schema ready for %s backend\n", rt.Config().Store.Backend)
					return nil
				})
			}
			def, err := rag.ToolDefinition(rag.DefaultToolName, rag.DefaultToolDescription)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(def)
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "Create the collection or index in the configured store")
	return cmd
}
