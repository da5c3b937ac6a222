package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/recall-ai/recall/pkg/models"
)

// formatCacheStats formats cache stats and per-model entry counts as text.
func formatCacheStats(stats models.CacheStats, counts map[string]int64) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)

	if len(counts) == 0 {
		return b.String()
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("\n")
	fmt.Fprintf(&b, "%-40s %8s\n", "Model", "Entries")
	b.WriteString(strings.Repeat("-", 49) + "\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%-40s %8d\n", name, counts[name])
	}
	return b.String()
}
