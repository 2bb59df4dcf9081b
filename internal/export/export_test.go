package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nbgather/internal/types"
)

func testSlice() types.Slice {
	return types.Slice{
		TargetID: "c",
		Cells: []types.Cell{
			{ID: "a", Source: "x = 1", Ordinal: 1},
			{ID: "c", Source: "print(x)\n", Ordinal: 3},
		},
	}
}

func TestRenderScript(t *testing.T) {
	r := NewScriptRenderer("")
	r.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }

	got := r.Render(testSlice())

	if !strings.Contains(got, CellIDMarker) {
		t.Error("header should carry the unreplaced marker token")
	}
	if !strings.Contains(got, "2026-08-29T12:00:00Z") {
		t.Error("header should carry the generation timestamp")
	}
	if strings.Count(got, "# %%\n") != 2 {
		t.Errorf("want one delimiter per cell, got:\n%s", got)
	}
	if !strings.HasSuffix(got, "print(x)\n") {
		t.Errorf("cell sources should end with a newline, got:\n%s", got)
	}
}

func TestRenderScriptCustomMarker(t *testing.T) {
	r := NewScriptRenderer("## cell")
	got := r.Render(testSlice())
	if strings.Count(got, "## cell\n") != 2 {
		t.Errorf("custom marker not used:\n%s", got)
	}
}

func TestNotebookRoundTrip(t *testing.T) {
	data, err := RenderNotebook(testSlice())
	if err != nil {
		t.Fatalf("RenderNotebook error = %v", err)
	}

	// Must be a structurally valid nbformat v4 document.
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rendered notebook is not JSON: %v", err)
	}
	if doc["nbformat"].(float64) != 4 {
		t.Error("nbformat should be 4")
	}

	path := filepath.Join(t.TempDir(), "out.ipynb")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cells, err := ReadNotebook(path)
	if err != nil {
		t.Fatalf("ReadNotebook error = %v", err)
	}

	want := []types.Cell{
		{ID: "a", Source: "x = 1", Language: types.LanguagePython},
		{ID: "c", Source: "print(x)\n", Language: types.LanguagePython},
	}
	if diff := cmp.Diff(want, cells); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
}

func TestReadNotebookStringAndArraySource(t *testing.T) {
	raw := `{
 "cells": [
  {"id": "s", "cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": "x = 1\n"},
  {"id": "l", "cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": ["y = 2\n", "z = 3"]},
  {"id": "m", "cell_type": "markdown", "execution_count": null, "metadata": {}, "outputs": [], "source": "# title"},
  {"id": "r", "cell_type": "raw", "execution_count": null, "metadata": {}, "outputs": [], "source": "ignored"}
 ],
 "metadata": {"language_info": {"name": "python"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`
	path := filepath.Join(t.TempDir(), "nb.ipynb")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cells, err := ReadNotebook(path)
	if err != nil {
		t.Fatalf("ReadNotebook error = %v", err)
	}
	if len(cells) != 3 {
		t.Fatalf("got %d cells, want 3 (raw cell dropped)", len(cells))
	}
	if cells[0].Source != "x = 1\n" {
		t.Errorf("string source = %q", cells[0].Source)
	}
	if cells[1].Source != "y = 2\nz = 3" {
		t.Errorf("array source = %q", cells[1].Source)
	}
	if cells[2].Language != types.LanguageMarkdown {
		t.Error("markdown cell should keep its language tag")
	}
}

func TestReadNotebookAssignsMissingIDs(t *testing.T) {
	raw := `{
 "cells": [{"cell_type": "code", "execution_count": null, "metadata": {}, "outputs": [], "source": "x = 1"}],
 "metadata": {}, "nbformat": 4, "nbformat_minor": 2
}`
	path := filepath.Join(t.TempDir(), "nb.ipynb")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}
	cells, err := ReadNotebook(path)
	if err != nil {
		t.Fatalf("ReadNotebook error = %v", err)
	}
	if len(cells) != 1 || cells[0].ID == "" {
		t.Errorf("cells = %+v, want one cell with a generated ID", cells)
	}
}

func TestReadPercentScript(t *testing.T) {
	content := "# %%\nimport os\n\n# %% [markdown]\n# notes\n\n# %%\nprint(os.getcwd())\n"
	path := filepath.Join(t.TempDir(), "cells.py")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cells, err := ReadPercentScript(path, "")
	if err != nil {
		t.Fatalf("ReadPercentScript error = %v", err)
	}
	if len(cells) != 3 {
		t.Fatalf("got %d cells, want 3", len(cells))
	}
	if cells[0].Source != "import os" {
		t.Errorf("first cell = %q", cells[0].Source)
	}
	if cells[1].Language != types.LanguageMarkdown {
		t.Error("[markdown] marker should tag the cell")
	}
	if cells[2].Language != types.LanguagePython {
		t.Error("plain marker should reset language to python")
	}
}

func TestReadPercentScriptLeadingCell(t *testing.T) {
	content := "setup = True\n# %%\nprint(setup)\n"
	path := filepath.Join(t.TempDir(), "cells.py")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cells, err := ReadPercentScript(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 2 || cells[0].Source != "setup = True" {
		t.Errorf("cells = %+v, want leading cell first", cells)
	}
}
