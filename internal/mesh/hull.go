package mesh

import (
	"context"
	"math"
	"path/filepath"
)

// HullJob carves a voxel grid from the session's silhouettes and extracts a
// surface mesh. Fully local and deterministic: runtime is bounded by the
// grid resolution and frame count, so there is no timeout.
type HullJob struct {
	voxelRes     int
	maskSize     int
	smoothPasses int
}

func NewHullJob(voxelRes, maskSize, smoothPasses int) *HullJob {
	if voxelRes <= 0 {
		voxelRes = 32
	}
	if maskSize <= 0 {
		maskSize = 200
	}
	return &HullJob{voxelRes: voxelRes, maskSize: maskSize, smoothPasses: smoothPasses}
}

func (j *HullJob) Name() string { return "local" }

func (j *HullJob) Generate(ctx context.Context, req Request, progress func(step string)) (Artifact, error) {
	if len(req.FramePaths) < 3 {
		return Artifact{}, ErrInsufficientFrames
	}

	progress("Analyzing Optical Data...")
	sils := make([]*silhouette, 0, len(req.FramePaths))
	for _, path := range req.FramePaths {
		if err := ctx.Err(); err != nil {
			return Artifact{}, err
		}
		sil, err := loadSilhouette(path, j.maskSize)
		if err != nil {
			return Artifact{}, err
		}
		sils = append(sils, sil)
	}

	progress("Carving Voxel Grid...")
	vol := newVolume(j.voxelRes)
	n := len(sils)
	for i, sil := range sils {
		if err := ctx.Err(); err != nil {
			return Artifact{}, err
		}
		// Frame i is assumed captured at this rotation of a full turn.
		angle := 2 * math.Pi * float64(i) / float64(n)
		vol.carve(sil, angle)
	}

	progress("Extracting Surface...")
	surface := extractSurface(vol)
	origin := OriginLocal
	if len(surface.Faces) == 0 {
		// Everything was carved away; ship a placeholder instead of failing.
		surface = placeholderSphere()
		origin = OriginPlaceholder
	} else {
		laplacianSmooth(&surface, j.smoothPasses)
	}

	if err := WriteBinarySTL(req.ArtifactPath, surface); err != nil {
		return Artifact{}, err
	}
	return Artifact{URL: filepath.Base(req.ArtifactPath), Origin: origin}, nil
}
