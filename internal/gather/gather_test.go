package gather

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbgather/internal/export"
	"nbgather/internal/types"
)

type fakeSlicer struct {
	slice types.Slice
	err   error
}

func (f *fakeSlicer) Slice(ctx context.Context, cellID string) (types.Slice, error) {
	if f.err != nil {
		return types.Slice{}, f.err
	}
	return f.slice, nil
}

type fakeHost struct {
	name    string
	content []byte
	err     error
}

func (f *fakeHost) OpenScript(ctx context.Context, name string, content []byte) (types.Artifact, error) {
	if f.err != nil {
		return types.Artifact{}, f.err
	}
	f.name, f.content = name, content
	return types.Artifact{Kind: types.ArtifactScript, Path: "/tmp/" + name}, nil
}

func (f *fakeHost) OpenNotebook(ctx context.Context, name string, content []byte) (types.Artifact, error) {
	if f.err != nil {
		return types.Artifact{}, f.err
	}
	f.name, f.content = name, content
	return types.Artifact{Kind: types.ArtifactNotebook, Path: "/tmp/" + name}, nil
}

func (f *fakeHost) Close() error { return nil }

type fakeRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{counts: make(map[string]int)}
}

func (r *fakeRecorder) Count(event string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[event] += n
}

func testService(slicer Slicer, h *fakeHost, rec Recorder) *Service {
	return NewService(slicer, export.NewScriptRenderer(""), h, rec)
}

func testSlice() types.Slice {
	return types.Slice{
		TargetID: "cell-7",
		Cells: []types.Cell{
			{ID: "cell-1", Source: "x = 1", Ordinal: 1},
			{ID: "cell-7", Source: "print(x)", Ordinal: 2},
		},
	}
}

func TestGatherToScriptResolvesMarker(t *testing.T) {
	h := &fakeHost{}
	rec := newFakeRecorder()
	svc := testService(&fakeSlicer{slice: testSlice()}, h, rec)

	artifact, err := svc.GatherToScript(context.Background(), "cell-7")
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactScript, artifact.Kind)

	text := string(h.content)
	assert.NotContains(t, text, export.CellIDMarker, "marker must be replaced")
	assert.Contains(t, text, "cell-7")
	assert.Contains(t, text, "x = 1")
	assert.Contains(t, text, "print(x)")

	assert.Equal(t, 1, rec.counts[EventRequested])
	assert.Equal(t, 1, rec.counts[EventSucceeded])
	assert.Zero(t, rec.counts[EventFailed])
}

func TestGatherToNotebookRendersDocument(t *testing.T) {
	h := &fakeHost{}
	svc := testService(&fakeSlicer{slice: testSlice()}, h, newFakeRecorder())

	artifact, err := svc.GatherToNotebook(context.Background(), "cell-7")
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactNotebook, artifact.Kind)
	assert.True(t, strings.HasSuffix(h.name, ".ipynb"))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(h.content, &doc))
	assert.Len(t, doc["cells"], 2)
}

func TestGatherSliceFailureIsCountedAndReturned(t *testing.T) {
	wantErr := errors.New("unknown cell")
	rec := newFakeRecorder()
	svc := testService(&fakeSlicer{err: wantErr}, &fakeHost{}, rec)

	_, err := svc.GatherToScript(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wantErr), "original error must be wrapped, not swallowed")
	assert.Equal(t, 1, rec.counts[EventRequested])
	assert.Equal(t, 1, rec.counts[EventFailed])
	assert.Zero(t, rec.counts[EventSucceeded])
}

func TestGatherHostFailureIsCounted(t *testing.T) {
	rec := newFakeRecorder()
	svc := testService(&fakeSlicer{slice: testSlice()}, &fakeHost{err: errors.New("disk full")}, rec)

	_, err := svc.GatherToNotebook(context.Background(), "cell-7")
	require.Error(t, err)
	assert.Equal(t, 1, rec.counts[EventFailed])
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "gathered-abc123.py", artifactName("abc123", ".py"))
	assert.Equal(t, "gathered-a-b-c.ipynb", artifactName("a b/c", ".ipynb"))
	assert.Equal(t, "gathered-0123456789ab.py", artifactName("0123456789abcdef", ".py"))
}
