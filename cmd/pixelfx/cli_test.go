package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelfx/internal/domain"
	"github.com/dunamismax/pixelfx/internal/pixel"
)

func runCLI(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("PIXELFX_CONFIG", "")

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(bytes.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writePNG(t *testing.T, path string, w, h int) []byte {
	t.Helper()
	buf := pixel.New(w, h)
	for i := range buf.Pix {
		buf.Pix[i] = uint8(i * 7)
	}
	for i := 3; i < len(buf.Pix); i += 4 {
		buf.Pix[i] = 255
	}
	data, err := pixel.Encode(buf, pixel.FormatPNG, 0)
	require.NoError(t, err)
	if path != "" {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return data
}

func decodeFile(t *testing.T, path string) *pixel.Buffer {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	buf, _, err := pixel.Decode(data, "")
	require.NoError(t, err)
	return buf
}

func TestApplyWritesResizedOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "wide.png")
	out := filepath.Join(dir, "out.png")
	writePNG(t, in, 1600, 400)

	stdout, _, err := runCLI(t, nil, "apply", in, "--effect", "cinematic", "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, out+" 800x200")

	got := decodeFile(t, out)
	assert.Equal(t, 800, got.Width)
	assert.Equal(t, 200, got.Height)
}

func TestApplyDefaultsToExportName(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "small.png")
	writePNG(t, in, 4, 4)

	_, _, err := runCLI(t, nil, "apply", in, "-e", "Hyper-Real", "--max-width", "2", "--max-height", "2", "--filter", "lanczos")
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "ai-enhanced-hyperreal-*.png"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	got := decodeFile(t, matches[0])
	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 2, got.Height)
}

func TestApplyZeroStrengthThroughStdio(t *testing.T) {
	src := writePNG(t, "", 5, 3)

	stdout, _, err := runCLI(t, src, "apply", "-", "-e", "dreamscape", "-s", "0", "-o", "-")
	require.NoError(t, err)

	want, _, err := pixel.Decode(src, "")
	require.NoError(t, err)
	got, _, err := pixel.Decode([]byte(stdout), "image/png")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestApplyRejectsBadArguments(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.png")
	writePNG(t, in, 2, 2)

	_, _, err := runCLI(t, nil, "apply", in, "-e", "enhance", "-s", "101")
	require.ErrorIs(t, err, domain.ErrInvalidStrength)

	_, _, err = runCLI(t, nil, "apply", in, "-e", "vintage")
	require.ErrorIs(t, err, domain.ErrUnknownEffect)

	_, _, err = runCLI(t, nil, "apply", filepath.Join(dir, "missing.png"), "-e", "enhance")
	require.Error(t, err)

	_, _, err = runCLI(t, nil, "apply", in)
	require.Error(t, err, "effect flag is required")
}

func TestBatchWritesOneDirectoryPerInput(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a", "photo.png")
	second := filepath.Join(dir, "b", "photo.png")
	writePNG(t, first, 10, 10)
	writePNG(t, second, 12, 6)
	outDir := filepath.Join(dir, "out")

	stdout, _, err := runCLI(t, nil, "batch", first, second, "-e", "futuristic", "-o", outDir, "-j", "2", "--json")
	require.NoError(t, err)

	var results []batchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 2)
	for _, res := range results {
		require.Empty(t, res.Error)
		require.NotNil(t, res.Artifact)
		assert.Equal(t, "futuristic", res.Artifact.Effect)
		assert.FileExists(t, res.Artifact.Path)
	}
	assert.Equal(t, filepath.Join(outDir, "photo"), filepath.Dir(results[0].Artifact.Path))
	assert.Equal(t, filepath.Join(outDir, "photo-2"), filepath.Dir(results[1].Artifact.Path))
	assert.Equal(t, 12, results[1].Artifact.Width)
}

func TestBatchReportsFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writePNG(t, good, 3, 3)

	stdout, stderr, err := runCLI(t, nil, "batch", good, filepath.Join(dir, "nope.png"), "-e", "enhance", "-o", filepath.Join(dir, "out"))
	require.EqualError(t, err, "1 of 2 images failed")
	assert.Contains(t, stdout, good+" -> ")
	assert.Contains(t, stderr, "nope.png")
}

func TestBatchJobIDs(t *testing.T) {
	got := batchJobIDs([]string{"x/photo.png", "y/photo.jpg", "photo-2.png", ".png"})
	assert.Equal(t, []string{"photo", "photo-2", "photo-2-2", "image"}, got)

	got = batchJobIDs([]string{"a b.png", "a_b.png", "a+b.png", "a&b.jpg"})
	assert.Equal(t, []string{"a_b", "a_b-2", "a_b-3", "a_b-4"}, got)
}

func TestBatchKeepsInputsThatSanitizeAlike(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a b.png", "a_b.png", "a+b.png", "a&b.png", "a=b.png", "a,b.png"}
	inputs := make([]string, len(names))
	for i, name := range names {
		inputs[i] = filepath.Join(dir, name)
		writePNG(t, inputs[i], 4, 4)
	}
	outDir := filepath.Join(dir, "out")

	args := append([]string{"batch"}, inputs...)
	args = append(args, "-e", "enhance", "-o", outDir, "-j", "6", "--json")
	stdout, _, err := runCLI(t, nil, args...)
	require.NoError(t, err)

	var results []batchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, len(names))
	seen := map[string]bool{}
	for _, res := range results {
		require.NotNil(t, res.Artifact, res.Error)
		assert.FileExists(t, res.Artifact.Path)
		seen[filepath.Dir(res.Artifact.Path)] = true
	}
	assert.Len(t, seen, len(names))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, len(names))
}

func TestEffectsListsCatalog(t *testing.T) {
	stdout, _, err := runCLI(t, nil, "effects")
	require.NoError(t, err)
	for _, id := range []string{"enhance", "futuristic", "cinematic", "identity", "dreamscape", "hyperreal"} {
		assert.Contains(t, stdout, id)
	}
	assert.Contains(t, stdout, "Ultra Enhance")
}
