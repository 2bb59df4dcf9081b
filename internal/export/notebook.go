package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"nbgather/internal/logging"
	"nbgather/internal/types"
)

// nbformat v4 document shapes. Only the fields nbgather reads or writes.

type notebookDoc struct {
	Cells         []notebookCell   `json:"cells"`
	Metadata      notebookMetadata `json:"metadata"`
	NBFormat      int              `json:"nbformat"`
	NBFormatMinor int              `json:"nbformat_minor"`
}

type notebookMetadata struct {
	LanguageInfo languageInfo `json:"language_info"`
}

type languageInfo struct {
	Name string `json:"name"`
}

type notebookCell struct {
	ID             string                 `json:"id,omitempty"`
	CellType       string                 `json:"cell_type"`
	ExecutionCount *int                   `json:"execution_count"`
	Metadata       map[string]interface{} `json:"metadata"`
	Outputs        []interface{}          `json:"outputs"`
	Source         json.RawMessage        `json:"source"`
}

// RenderNotebook produces an nbformat v4 notebook containing the slice's
// cells in order.
func RenderNotebook(slice types.Slice) ([]byte, error) {
	doc := notebookDoc{
		Cells:         make([]notebookCell, 0, len(slice.Cells)),
		Metadata:      notebookMetadata{LanguageInfo: languageInfo{Name: "python"}},
		NBFormat:      4,
		NBFormatMinor: 5,
	}

	for _, cell := range slice.Cells {
		source, err := json.Marshal(splitSourceLines(cell.Source))
		if err != nil {
			return nil, fmt.Errorf("marshal cell %s source: %w", cell.ID, err)
		}
		doc.Cells = append(doc.Cells, notebookCell{
			ID:       cell.ID,
			CellType: "code",
			Metadata: map[string]interface{}{},
			Outputs:  []interface{}{},
			Source:   source,
		})
	}

	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return nil, fmt.Errorf("marshal notebook: %w", err)
	}

	logging.Export("rendered notebook for %s (%d cells)", slice.TargetID, len(slice.Cells))
	return data, nil
}

// splitSourceLines converts source text to the nbformat line array, each
// line keeping its trailing newline except possibly the last.
func splitSourceLines(source string) []string {
	if source == "" {
		return []string{}
	}
	lines := strings.SplitAfter(source, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// ReadNotebook loads the cells of an .ipynb file. Code cells are tagged
// with the notebook's language; markdown cells are carried through so
// callers can count what they skip. Cells without an ID get one.
func ReadNotebook(path string) ([]types.Cell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notebook %s: %w", path, err)
	}

	var doc notebookDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse notebook %s: %w", path, err)
	}

	language := types.Language(doc.Metadata.LanguageInfo.Name)
	if language == "" {
		language = types.LanguagePython
	}

	cells := make([]types.Cell, 0, len(doc.Cells))
	for _, nc := range doc.Cells {
		lang := language
		if nc.CellType == "markdown" {
			lang = types.LanguageMarkdown
		} else if nc.CellType != "code" {
			continue
		}

		id := nc.ID
		if id == "" {
			id = uuid.NewString()
		}

		cells = append(cells, types.Cell{
			ID:       id,
			Source:   joinSource(nc.Source),
			Language: lang,
		})
	}

	logging.Export("read %d cells from %s", len(cells), path)
	return cells, nil
}

// joinSource accepts the two nbformat source encodings: a single string or
// an array of lines.
func joinSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	return ""
}
