package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"nbgather/internal/types"
)

// ReadPercentScript splits a percent-format script into cells. Lines
// starting with the cell marker begin a new cell; content before the first
// marker forms a leading cell. A marker suffixed [markdown] tags the cell
// as markdown.
func ReadPercentScript(path, cellMarker string) ([]types.Cell, error) {
	if cellMarker == "" {
		cellMarker = DefaultCellMarker
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}

	var cells []types.Cell
	var current []string
	currentLang := types.LanguagePython

	flush := func() {
		source := strings.TrimRight(strings.Join(current, "\n"), "\n")
		if strings.TrimSpace(source) != "" {
			cells = append(cells, types.Cell{
				ID:       uuid.NewString(),
				Source:   source,
				Language: currentLang,
			})
		}
		current = nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, cellMarker) {
			flush()
			currentLang = types.LanguagePython
			if strings.Contains(line, "[markdown]") {
				currentLang = types.LanguageMarkdown
			}
			continue
		}
		current = append(current, line)
	}
	flush()

	return cells, nil
}
