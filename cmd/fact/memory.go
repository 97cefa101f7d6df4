package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bahamondeX/fact/src/config"
	"github.com/bahamondeX/fact/src/rag"
	"github.com/bahamondeX/fact/src/runtime"
)

func (a *app) storeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store <content...>",
		Short: "Embed and store content in the namespace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := rag.Store(strings.Join(args, " "), a.flags.namespace)
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				return a.stream(ctx, rt, op)
			})
		},
	}
}

func (a *app) retrieveCmd() *cobra.Command {
	var (
		topK      int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:     "retrieve <query...>",
		Aliases: []string{"query"},
		Short:   "Find stored content similar to the query",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				k, t := topK, threshold
				if !cmd.Flags().Changed("top-k") {
					k = rt.Config().Retrieval.TopK
				}
				if !cmd.Flags().Changed("threshold") {
					t = rt.Config().Retrieval.Threshold
				}
				return a.stream(ctx, rt, rag.Retrieve(query, a.flags.namespace, k, t))
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", config.Default().Retrieval.TopK, "Number of matches to request (1-20)")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", config.Default().Retrieval.Threshold, "Minimum similarity score (0.0-1.0)")
	return cmd
}

// stream writes chunks as they arrive. Failure chunks are printed and then
// reported as the command error so the exit status is non-zero.
func (a *app) stream(ctx context.Context, rt *runtime.Runtime, op rag.Operation) error {
	var failed bool
	for chunk, err := range rt.Run(ctx, op) {
		if err != nil {
			return err
		}
		fmt.Fprint(a.stdout, chunk.Text)
		if chunk.Kind == rag.ChunkError {
			failed = true
		}
	}
	if failed {
		fmt.Fprintln(a.stdout)
		return fmt.Errorf("%s failed", op.Action)
	}
	return nil
}
