package teacherview

import (
	"strings"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/networking"
)

func TestRows(t *testing.T) {
	ranking := networking.Ranking{
		{ClientID: "c1", Name: "A", DBFS: -9, Text: "hello"},
		{ClientID: "c2", Name: "", DBFS: -120},
	}

	rows := Rows(ranking)
	want := []Row{
		{Name: "A", DBFS: -9, Percent: 90, Top: true, Transcript: "hello"},
		{Name: "c2", DBFS: -120, Percent: 0, Top: false, Transcript: "no transcript"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestMeter(t *testing.T) {
	tests := []struct {
		percent int
		want    string
	}{
		{0, "[..........]"},
		{50, "[#####.....]"},
		{100, "[##########]"},
		{150, "[##########]"},
		{-5, "[..........]"},
	}
	for _, tt := range tests {
		if got := Meter(tt.percent, 10); got != tt.want {
			t.Errorf("Meter(%d) = %q, want %q", tt.percent, got, tt.want)
		}
	}
}

func TestRenderRanking(t *testing.T) {
	var sb strings.Builder
	err := RenderRanking(&sb, networking.Ranking{
		{ClientID: "c1", Name: "A", DBFS: -9, Text: "hello"},
		{ClientID: "c2", Name: "B", DBFS: -45},
	})
	if err != nil {
		t.Fatalf("RenderRanking: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("rendered %q", sb.String())
	}
	if !strings.HasPrefix(lines[0], "* A") || !strings.HasSuffix(lines[0], "hello") {
		t.Errorf("top line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "  B") || !strings.Contains(lines[1], " 50%") || !strings.HasSuffix(lines[1], "no transcript") {
		t.Errorf("second line = %q", lines[1])
	}

	sb.Reset()
	RenderRanking(&sb, nil)
	if sb.String() != "no speakers\n" {
		t.Errorf("empty ranking rendered %q", sb.String())
	}
}

func TestRenderHistory(t *testing.T) {
	var sb strings.Builder
	RenderHistory(&sb, networking.History{
		{Time: "10:00:01", Name: "A", Text: "hello"},
		{Time: "10:00:05", Name: "B", Text: "hi"},
	})
	want := "[10:00:01] A: hello\n[10:00:05] B: hi\n"
	if sb.String() != want {
		t.Fatalf("rendered %q, want %q", sb.String(), want)
	}
}
