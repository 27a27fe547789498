package teacherview

import (
	"fmt"
	"io"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/dsp"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/networking"
)

const (
	noTranscript = "no transcript"
	meterWidth   = 20
)

// One ranked speaker, ready for display.
type Row struct {
	Name       string
	DBFS       float64
	Percent    int
	Top        bool
	Transcript string
}

// Rows for a ranking, in ranking order. The first row is the loudest speaker.
func Rows(ranking networking.Ranking) []Row {
	rows := make([]Row, len(ranking))
	for i, entry := range ranking {
		name := entry.Name
		if name == "" {
			name = entry.ClientID
		}
		transcript := entry.Text
		if transcript == "" {
			transcript = noTranscript
		}
		rows[i] = Row{
			Name:       name,
			DBFS:       entry.DBFS,
			Percent:    dsp.DBFSToPercent(entry.DBFS),
			Top:        i == 0,
			Transcript: transcript,
		}
	}
	return rows
}

// Text level bar, e.g. [#####...............] for 25 percent.
func Meter(percent int, width int) string {
	filled := min(width, max(0, percent*width/100))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func RenderRanking(w io.Writer, ranking networking.Ranking) error {
	var sb strings.Builder
	if len(ranking) == 0 {
		sb.WriteString("no speakers\n")
	}
	for _, row := range Rows(ranking) {
		marker := "  "
		if row.Top {
			marker = "* "
		}
		fmt.Fprintf(&sb, "%s%-20s %7.1f dBFS %s %3d%%  %s\n",
			marker, row.Name, row.DBFS, Meter(row.Percent, meterWidth), row.Percent, row.Transcript)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func RenderHistory(w io.Writer, history networking.History) error {
	var sb strings.Builder
	for _, entry := range history {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", entry.Time, entry.Name, entry.Text)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
