package ui

import (
	"fmt"
	"strings"
	"time"

	"vkharvest/pkg/crawler"
	"vkharvest/pkg/models"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// FormatElapsed renders a duration as HH:MM:SS
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// OffsetBar draws offset relative to the furthest source
func OffsetBar(offset, furthest int) string {
	filled := 0
	if furthest > 0 {
		filled = offset * barWidth / furthest
	}
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)
}

// FormatSources renders one line per source with its offset
func FormatSources(sources []models.Source) string {
	furthest, width := 0, 0
	for _, src := range sources {
		if src.Offset > furthest {
			furthest = src.Offset
		}
		if len(src.ID) > width {
			width = len(src.ID)
		}
	}

	var b strings.Builder
	for _, src := range sources {
		fmt.Fprintf(&b, "  %-*s [%s] %d\n", width, src.ID, OffsetBar(src.Offset, furthest), src.Offset)
	}
	return b.String()
}

// PrintSummary prints the end of run report
func PrintSummary(s crawler.Summary) {
	fmt.Fprintf(out, "\n%s %s\n", Magenta("[FINISHED]"), Yellow(string(s.Reason)))
	PrintInfo("Elapsed", FormatElapsed(s.Elapsed))
	PrintInfo("New profiles", fmt.Sprintf("%d", s.NewProfiles))
	PrintInfo("New posts", fmt.Sprintf("%d", s.NewPosts))
	PrintInfo("Throughput", fmt.Sprintf("~%d posts/sec", s.Throughput))
	PrintInfo("Request pause", s.RequestSleepInterval.String())
	if len(s.Sources) > 0 {
		fmt.Fprintln(out, Cyan("Offsets:"))
		fmt.Fprint(out, Dim(FormatSources(s.Sources)))
	}
}
