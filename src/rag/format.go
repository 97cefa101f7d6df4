package rag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bahamondeX/fact/src/memory/model"
)

func storedText(count int, namespace string) string {
	return fmt.Sprintf("✅ Successfully stored %d embedding in '%s'.\n", count, namespace)
}

func noMatchesText(namespace string, threshold float64) string {
	return fmt.Sprintf("No relevant matches found in '%s' above threshold %s.\n", namespace, formatThreshold(threshold))
}

func foundText(count int, namespace string) string {
	return fmt.Sprintf("Found %d relevant matches in '%s':\n\n", count, namespace)
}

func matchText(rank int, m model.Match) string {
	return fmt.Sprintf("%d. [Score: %.4f] %s\n", rank, m.Score, m.Metadata.Content)
}

func errorText(action string, err error) string {
	return fmt.Sprintf("❌ Error during %s operation: %v", action, err)
}

// formatThreshold prints the shortest exact decimal with at least one
// fractional digit: 0.75, 1.0, 0.0.
func formatThreshold(t float64) string {
	s := strconv.FormatFloat(t, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// StoredChunks renders a successful store.
func StoredChunks(resp model.UpsertResponse, namespace string) []Chunk {
	return []Chunk{{Kind: ChunkInfo, Text: storedText(resp.UpsertedCount, namespace)}}
}

// OutcomeChunks renders a retrieval outcome. The result is a pure function
// of o: same ranks, same four-decimal scores, every time.
func OutcomeChunks(o model.Outcome) []Chunk {
	switch o := o.(type) {
	case model.NoMatches:
		return []Chunk{{Kind: ChunkInfo, Text: noMatchesText(o.Namespace, o.Threshold)}}
	case model.Found:
		out := make([]Chunk, 0, len(o.Matches)+1)
		out = append(out, Chunk{Kind: ChunkInfo, Text: foundText(len(o.Matches), o.Namespace)})
		for i := range o.Matches {
			m := o.Matches[i]
			out = append(out, Chunk{Kind: ChunkMatch, Text: matchText(i+1, m), Rank: i + 1, Match: &m})
		}
		return out
	}
	return nil
}

// ErrorChunk renders the terminal failure chunk for action.
func ErrorChunk(action string, err error) Chunk {
	return Chunk{Kind: ChunkError, Text: errorText(action, err)}
}
