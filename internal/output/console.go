package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/modelpull/modelpull/internal/engine/events"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))   // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))  // blue
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))  // cyan
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250")) // light grey
)

// Consume prints download events to stdout until the channel closes. Progress
// events are skipped; they arrive every 100ms and belong to API subscribers,
// not the console.
func Consume(ch <-chan any) {
	for msg := range ch {
		switch m := msg.(type) {
		case events.QueuedMsg:
			fmt.Printf("%s %s [%s]\n", pendingStyle.Render("Queued:"), m.Filename, shortID(m.DownloadID))
		case events.StartedMsg:
			fmt.Printf("%s %s (%s)\n", infoStyle.Render("Started:"), shortID(m.DownloadID),
				detailStyle.Render(humanize.Bytes(uint64(m.Total))))
		case events.CompleteMsg:
			fmt.Printf("%s %s -> %s (%s)\n", successStyle.Render("Completed:"), shortID(m.DownloadID),
				m.Path, detailStyle.Render(humanize.Bytes(uint64(m.Size))))
		case events.ErrorMsg:
			fmt.Printf("%s %s: %v\n", errorStyle.Render("Error:"), shortID(m.DownloadID), m.Err)
		case events.CancelledMsg:
			fmt.Printf("%s %s\n", warningStyle.Render("Cancelled:"), shortID(m.DownloadID))
		case events.PausedMsg:
			fmt.Printf("%s %s (%s downloaded)\n", warningStyle.Render("Paused:"), shortID(m.DownloadID),
				detailStyle.Render(humanize.Bytes(uint64(m.Downloaded))))
		case events.ResumedMsg:
			fmt.Printf("%s %s\n", infoStyle.Render("Resumed:"), shortID(m.DownloadID))
		}
	}
}

func shortID(id string) string {
	if len(id) > 40 {
		return id[:40] + "…"
	}
	return id
}
