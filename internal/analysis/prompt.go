package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/calvin1011/watchtower/internal/intel"
)

//go:embed context.txt
var defaultSystemPrompt string

const contentLimit = 2000

// DefaultSystemPrompt returns the built-in analyst context.
func DefaultSystemPrompt() string {
	return strings.TrimSpace(defaultSystemPrompt)
}

// LoadSystemPrompt reads an override file, or returns the built-in context
// when path is empty.
func LoadSystemPrompt(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSystemPrompt(), nil
	}
	// #nosec G304 -- operator-supplied config path.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read analysis context %s: %w", path, err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("analysis context %s is empty", path)
	}
	return prompt, nil
}

// BuildUserMessage renders the numbered item list sent to the model.
func BuildUserMessage(competitor string, items []intel.Item) string {
	blocks := make([]string, 0, len(items))
	for i, item := range items {
		lines := []string{fmt.Sprintf("Item %d:", i+1)}
		if item.Title != "" {
			lines = append(lines, "  Title: "+item.Title)
		}
		if item.URL != "" {
			lines = append(lines, "  URL: "+item.URL)
		}
		if item.Snippet != "" {
			lines = append(lines, "  Snippet: "+item.Snippet)
		}
		if item.Date != "" {
			lines = append(lines, "  Date: "+item.Date)
		}
		if item.RawContent != "" {
			lines = append(lines, "  Content: "+intel.Truncate(item.RawContent, contentLimit))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Competitor: %s\n\n", competitor)
	b.WriteString("Analyze the following scraped data and return a JSON array of intel analyses.\n")
	b.WriteString("One analysis per item. Use the exact keys: summary, threat_level, threat_reason, " +
		"recommended_response, signal_type, confidence, source_url.\n\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\nReturn ONLY valid JSON. No markdown or extra text.")
	return b.String()
}
