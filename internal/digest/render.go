package digest

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/calvin1011/watchtower/internal/intel"
)

//go:embed templates/digest.html.tmpl
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/digest.html.tmpl"))

const displayLayout = "January 02, 2006"

var levelColors = map[intel.ThreatLevel]template.CSS{
	intel.ThreatHigh:   "#dc2626",
	intel.ThreatMedium: "#ea580c",
	intel.ThreatLow:    "#ca8a04",
}

type section struct {
	Level   intel.ThreatLevel
	Color   template.CSS
	Entries []intel.DigestEntry
}

type pageData struct {
	Title    string
	Company  string
	Sections []section
}

// Title is the heading of the rendered digest.
func Title(weekOf time.Time) string {
	return "Watchtower Competitive Intel — Week of " + weekOf.Format(displayLayout)
}

// Subject is the email subject line.
func Subject(weekOf time.Time) string {
	return "Watchtower Intel Digest — Week of " + weekOf.Format(displayLayout)
}

// Render produces the escaped HTML body. Groups appear HIGH, MEDIUM, LOW and
// empty groups are skipped.
func Render(content intel.DigestContent, weekOf time.Time, company string) (string, error) {
	data := pageData{Title: Title(weekOf), Company: company}
	for _, level := range intel.ThreatLevels {
		entries := content.Grouped[level]
		if len(entries) == 0 {
			continue
		}
		data.Sections = append(data.Sections, section{
			Level:   level,
			Color:   levelColors[level],
			Entries: entries,
		})
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}
