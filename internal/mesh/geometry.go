package mesh

import "math"

// Vec3 is a mesh vertex position.
type Vec3 struct {
	X, Y, Z float64
}

// Mesh is an indexed triangle surface.
type Mesh struct {
	Vertices []Vec3
	Faces    [][3]int
}

// volume is a cubic occupancy grid over [-1,1]^3. Cells start occupied and
// get carved away by silhouettes.
type volume struct {
	res int
	occ []bool
}

func newVolume(res int) *volume {
	occ := make([]bool, res*res*res)
	for i := range occ {
		occ[i] = true
	}
	return &volume{res: res, occ: occ}
}

func (v *volume) idx(x, y, z int) int {
	return (x*v.res+y)*v.res + z
}

func (v *volume) occupied(x, y, z int) bool {
	if x < 0 || y < 0 || z < 0 || x >= v.res || y >= v.res || z >= v.res {
		return false
	}
	return v.occ[v.idx(x, y, z)]
}

// norm maps a cell index to the center-of-cube coordinate in [-1,1].
func (v *volume) norm(i int) float64 {
	return (float64(i)/float64(v.res))*2 - 1
}

// carve removes every cell whose orthographic projection at the given
// rotation angle lands on background in the silhouette. The subject is
// assumed to rotate about the vertical axis, so the cell is rotated by
// -angle before projecting.
func (v *volume) carve(sil *silhouette, angle float64) {
	sin, cos := math.Sincos(angle)
	for x := 0; x < v.res; x++ {
		nx := v.norm(x)
		for z := 0; z < v.res; z++ {
			nz := v.norm(z)
			xr := nx*cos - nz*sin
			u := int(((xr + 1) / 2) * float64(sil.w-1))
			for y := 0; y < v.res; y++ {
				i := v.idx(x, y, z)
				if !v.occ[i] {
					continue
				}
				ny := v.norm(y)
				pv := int(((ny + 1) / 2) * float64(sil.h-1))
				if !sil.foregroundAt(u, pv) {
					v.occ[i] = false
				}
			}
		}
	}
}

func (v *volume) occupiedCount() int {
	n := 0
	for _, o := range v.occ {
		if o {
			n++
		}
	}
	return n
}

// extractSurface builds the boundary between occupied and empty cells as an
// indexed triangle mesh, two triangles per exposed cell face. On a binary
// grid this is the 0.5 isosurface.
func extractSurface(v *volume) Mesh {
	type corner [3]int
	var mesh Mesh
	indexOf := make(map[corner]int)

	vertex := func(c corner) int {
		if i, ok := indexOf[c]; ok {
			return i
		}
		i := len(mesh.Vertices)
		indexOf[c] = i
		mesh.Vertices = append(mesh.Vertices, Vec3{
			X: (float64(c[0])/float64(v.res))*2 - 1,
			Y: (float64(c[1])/float64(v.res))*2 - 1,
			Z: (float64(c[2])/float64(v.res))*2 - 1,
		})
		return i
	}

	quad := func(a, b, c, d corner) {
		i0, i1, i2, i3 := vertex(a), vertex(b), vertex(c), vertex(d)
		mesh.Faces = append(mesh.Faces, [3]int{i0, i1, i2}, [3]int{i0, i2, i3})
	}

	for x := 0; x < v.res; x++ {
		for y := 0; y < v.res; y++ {
			for z := 0; z < v.res; z++ {
				if !v.occ[v.idx(x, y, z)] {
					continue
				}
				// Corners ordered counter-clockwise seen from outside.
				if !v.occupied(x+1, y, z) {
					quad(corner{x + 1, y, z}, corner{x + 1, y + 1, z}, corner{x + 1, y + 1, z + 1}, corner{x + 1, y, z + 1})
				}
				if !v.occupied(x-1, y, z) {
					quad(corner{x, y, z}, corner{x, y, z + 1}, corner{x, y + 1, z + 1}, corner{x, y + 1, z})
				}
				if !v.occupied(x, y+1, z) {
					quad(corner{x, y + 1, z}, corner{x, y + 1, z + 1}, corner{x + 1, y + 1, z + 1}, corner{x + 1, y + 1, z})
				}
				if !v.occupied(x, y-1, z) {
					quad(corner{x, y, z}, corner{x + 1, y, z}, corner{x + 1, y, z + 1}, corner{x, y, z + 1})
				}
				if !v.occupied(x, y, z+1) {
					quad(corner{x, y, z + 1}, corner{x + 1, y, z + 1}, corner{x + 1, y + 1, z + 1}, corner{x, y + 1, z + 1})
				}
				if !v.occupied(x, y, z-1) {
					quad(corner{x, y, z}, corner{x, y + 1, z}, corner{x + 1, y + 1, z}, corner{x + 1, y, z})
				}
			}
		}
	}
	return mesh
}

// laplacianSmooth blends each vertex halfway toward the average of its
// edge-connected neighbors, once per pass. It takes the edge off the voxel
// blockiness without shrinking the hull much at one or two passes.
func laplacianSmooth(m *Mesh, passes int) {
	if passes <= 0 || len(m.Faces) == 0 {
		return
	}
	neighbors := make(map[int]map[int]struct{}, len(m.Vertices))
	addEdge := func(a, b int) {
		if neighbors[a] == nil {
			neighbors[a] = make(map[int]struct{})
		}
		neighbors[a][b] = struct{}{}
	}
	for _, f := range m.Faces {
		addEdge(f[0], f[1])
		addEdge(f[1], f[0])
		addEdge(f[1], f[2])
		addEdge(f[2], f[1])
		addEdge(f[2], f[0])
		addEdge(f[0], f[2])
	}

	for p := 0; p < passes; p++ {
		next := make([]Vec3, len(m.Vertices))
		for i, pos := range m.Vertices {
			ns := neighbors[i]
			if len(ns) == 0 {
				next[i] = pos
				continue
			}
			var avg Vec3
			for n := range ns {
				avg.X += m.Vertices[n].X
				avg.Y += m.Vertices[n].Y
				avg.Z += m.Vertices[n].Z
			}
			inv := 1 / float64(len(ns))
			next[i] = Vec3{
				X: pos.X/2 + avg.X*inv/2,
				Y: pos.Y/2 + avg.Y*inv/2,
				Z: pos.Z/2 + avg.Z*inv/2,
			}
		}
		m.Vertices = next
	}
}

// placeholderSphere is the fallback solid emitted when carving leaves no
// surface, so the viewer always gets something to render.
func placeholderSphere() Mesh {
	const (
		radius  = 10.0
		stacks  = 8
		sectors = 12
	)
	var m Mesh

	// Poles plus ring vertices.
	m.Vertices = append(m.Vertices, Vec3{Y: radius})
	for i := 1; i < stacks; i++ {
		phi := math.Pi * float64(i) / stacks
		for j := 0; j < sectors; j++ {
			theta := 2 * math.Pi * float64(j) / sectors
			m.Vertices = append(m.Vertices, Vec3{
				X: radius * math.Sin(phi) * math.Cos(theta),
				Y: radius * math.Cos(phi),
				Z: radius * math.Sin(phi) * math.Sin(theta),
			})
		}
	}
	bottom := len(m.Vertices)
	m.Vertices = append(m.Vertices, Vec3{Y: -radius})

	ring := func(i, j int) int { return 1 + (i-1)*sectors + j%sectors }

	for j := 0; j < sectors; j++ {
		m.Faces = append(m.Faces, [3]int{0, ring(1, j+1), ring(1, j)})
	}
	for i := 1; i < stacks-1; i++ {
		for j := 0; j < sectors; j++ {
			a, b := ring(i, j), ring(i, j+1)
			c, d := ring(i+1, j), ring(i+1, j+1)
			m.Faces = append(m.Faces, [3]int{a, b, d}, [3]int{a, d, c})
		}
	}
	for j := 0; j < sectors; j++ {
		m.Faces = append(m.Faces, [3]int{bottom, ring(stacks-1, j), ring(stacks-1, j+1)})
	}
	return m
}
