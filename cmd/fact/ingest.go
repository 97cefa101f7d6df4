package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bahamondeX/fact/src/concurrent"
	"github.com/bahamondeX/fact/src/rag"
	"github.com/bahamondeX/fact/src/runtime"
)

func (a *app) ingestCmd() *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "ingest <file...>",
		Short: "Store every paragraph of the given text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var paragraphs []string
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				paragraphs = append(paragraphs, splitParagraphs(string(data))...)
			}
			if len(paragraphs) == 0 {
				fmt.Fprintln(a.stdout, "nothing to ingest")
				return nil
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				return a.ingest(ctx, rt, paragraphs, parallel)
			})
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "Paragraphs stored concurrently")
	return cmd
}

func (a *app) ingest(ctx context.Context, rt *runtime.Runtime, paragraphs []string, parallel int) error {
	log := rt.Logger().WithField("namespace", a.flags.namespace)
	tool := rt.Tool()
	stored, err := concurrent.Map(ctx, paragraphs, parallel, func(ctx context.Context, p string) (bool, error) {
		req, err := rag.Store(p, a.flags.namespace).Validate()
		if err != nil {
			log.WithError(err).Warn("paragraph skipped")
			return false, nil
		}
		if _, err := tool.Execute(ctx, req); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			log.WithError(err).Warn("paragraph not stored")
			return false, nil
		}
		return true, nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	var ok int
	for _, s := range stored {
		if s {
			ok++
		}
	}
	fmt.Fprintf(a.stdout, "stored %d of %d paragraphs in namespace %q\n", ok, len(paragraphs), a.flags.namespace)
	if ok < len(paragraphs) {
		return fmt.Errorf("%d paragraphs failed", len(paragraphs)-ok)
	}
	return nil
}

// splitParagraphs breaks text on blank lines and drops empty pieces.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var cur []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}
