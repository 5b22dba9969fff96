package mesh

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writeTestFrame renders a frame with a bright centered square over a dark
// background, the shape the silhouette mask is tuned for.
func writeTestFrame(t *testing.T, dir, name string, lit bool) string {
	t.Helper()
	const size = 64
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.RGBA{A: 255}
			if lit && x >= size/4 && x < 3*size/4 && y >= size/4 && y < 3*size/4 {
				c = color.RGBA{R: 240, G: 240, B: 240, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return path
}

func hullRequest(t *testing.T, frames int, lit bool) Request {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, frames)
	for i := 0; i < frames; i++ {
		paths = append(paths, writeTestFrame(t, dir, fmt.Sprintf("frame_%06d.png", i+1), lit))
	}
	return Request{
		SessionID:    "room",
		FramePaths:   paths,
		ArtifactPath: filepath.Join(dir, "reconstruction.stl"),
	}
}

func TestHullJobRejectsTooFewFrames(t *testing.T) {
	job := NewHullJob(16, 64, 1)
	for _, n := range []int{0, 1, 2} {
		_, err := job.Generate(context.Background(), hullRequest(t, n, true), func(string) {})
		if !errors.Is(err, ErrInsufficientFrames) {
			t.Fatalf("%d frames: error = %v, want ErrInsufficientFrames", n, err)
		}
	}
}

func TestHullJobCarvesViewableMesh(t *testing.T) {
	job := NewHullJob(16, 64, 1)
	var steps []string
	req := hullRequest(t, 4, true)

	artifact, err := job.Generate(context.Background(), req, func(s string) { steps = append(steps, s) })
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if artifact.Origin != OriginLocal {
		t.Fatalf("Origin = %q, want %q", artifact.Origin, OriginLocal)
	}
	if artifact.URL != "reconstruction.stl" {
		t.Fatalf("URL = %q, want session-relative filename", artifact.URL)
	}
	if len(steps) < 3 {
		t.Fatalf("progress steps = %v, want the three pipeline phases", steps)
	}

	m, err := ReadBinarySTL(req.ArtifactPath)
	if err != nil {
		t.Fatalf("ReadBinarySTL() error = %v", err)
	}
	if len(m.Vertices) < 1 || len(m.Faces) < 1 {
		t.Fatalf("mesh has %d vertices / %d faces, want at least one of each", len(m.Vertices), len(m.Faces))
	}
}

func TestHullJobFallsBackToPlaceholder(t *testing.T) {
	// All-dark frames carve everything away; the job must still produce a
	// viewable solid.
	job := NewHullJob(16, 64, 0)
	req := hullRequest(t, 3, false)

	artifact, err := job.Generate(context.Background(), req, func(string) {})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if artifact.Origin != OriginPlaceholder {
		t.Fatalf("Origin = %q, want %q", artifact.Origin, OriginPlaceholder)
	}
	m, err := ReadBinarySTL(req.ArtifactPath)
	if err != nil {
		t.Fatalf("ReadBinarySTL() error = %v", err)
	}
	if len(m.Faces) == 0 {
		t.Fatalf("placeholder mesh has no faces")
	}
}

func TestHullJobDeterministic(t *testing.T) {
	job := NewHullJob(16, 64, 2)
	reqA := hullRequest(t, 4, true)
	reqB := hullRequest(t, 4, true)

	if _, err := job.Generate(context.Background(), reqA, func(string) {}); err != nil {
		t.Fatalf("Generate(A) error = %v", err)
	}
	if _, err := job.Generate(context.Background(), reqB, func(string) {}); err != nil {
		t.Fatalf("Generate(B) error = %v", err)
	}

	a, err := os.ReadFile(reqA.ArtifactPath)
	if err != nil {
		t.Fatalf("read A: %v", err)
	}
	b, err := os.ReadFile(reqB.ArtifactPath)
	if err != nil {
		t.Fatalf("read B: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("identical inputs produced different meshes")
	}
}

func TestOtsuSeparatesBimodalHistogram(t *testing.T) {
	pixels := make([]uint8, 0, 200)
	for i := 0; i < 100; i++ {
		pixels = append(pixels, 20)
	}
	for i := 0; i < 100; i++ {
		pixels = append(pixels, 220)
	}
	threshold := otsuThreshold(pixels)
	if threshold < 20 || threshold >= 220 {
		t.Fatalf("threshold = %d, want between the two modes", threshold)
	}
}

func TestExtractSurfaceOnSingleVoxel(t *testing.T) {
	v := newVolume(4)
	for i := range v.occ {
		v.occ[i] = false
	}
	v.occ[v.idx(1, 1, 1)] = true

	m := extractSurface(v)
	if len(m.Faces) != 12 {
		t.Fatalf("faces = %d, want 12 (6 quads)", len(m.Faces))
	}
	if len(m.Vertices) != 8 {
		t.Fatalf("vertices = %d, want 8 shared cube corners", len(m.Vertices))
	}
}
