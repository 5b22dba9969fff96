package mesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// WriteBinarySTL exports the mesh in binary STL, the interchange format the
// viewer loads directly.
func WriteBinarySTL(path string, m Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var header [80]byte
	copy(header[:], "replicator visual hull")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Faces))); err != nil {
		return err
	}

	writeVec := func(v Vec3) error {
		for _, c := range [3]float64{v.X, v.Y, v.Z} {
			if err := binary.Write(w, binary.LittleEndian, float32(c)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, face := range m.Faces {
		a, b, c := m.Vertices[face[0]], m.Vertices[face[1]], m.Vertices[face[2]]
		if err := writeVec(faceNormal(a, b, c)); err != nil {
			return err
		}
		for _, v := range [3]Vec3{a, b, c} {
			if err := writeVec(v); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadBinarySTL loads a binary STL file back into a triangle soup. Used for
// artifact validation; vertices are not deduplicated.
func ReadBinarySTL(path string) (Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return Mesh{}, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [80]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Mesh{}, err
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return Mesh{}, err
	}
	if count > 10_000_000 {
		return Mesh{}, errors.New("implausible triangle count")
	}

	var m Mesh
	for i := uint32(0); i < count; i++ {
		var tri [12]float32 // normal + 3 vertices
		if err := binary.Read(r, binary.LittleEndian, &tri); err != nil {
			return Mesh{}, fmt.Errorf("triangle %d: %w", i, err)
		}
		var attr uint16
		if err := binary.Read(r, binary.LittleEndian, &attr); err != nil {
			return Mesh{}, fmt.Errorf("triangle %d attr: %w", i, err)
		}
		base := len(m.Vertices)
		for v := 0; v < 3; v++ {
			m.Vertices = append(m.Vertices, Vec3{
				X: float64(tri[3+v*3]),
				Y: float64(tri[4+v*3]),
				Z: float64(tri[5+v*3]),
			})
		}
		m.Faces = append(m.Faces, [3]int{base, base + 1, base + 2})
	}
	return m, nil
}

func faceNormal(a, b, c Vec3) Vec3 {
	ux, uy, uz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	vx, vy, vz := c.X-a.X, c.Y-a.Y, c.Z-a.Z
	n := Vec3{
		X: uy*vz - uz*vy,
		Y: uz*vx - ux*vz,
		Z: ux*vy - uy*vx,
	}
	length := math.Sqrt(n.X*n.X + n.Y*n.Y + n.Z*n.Z)
	if length == 0 {
		return Vec3{}
	}
	return Vec3{X: n.X / length, Y: n.Y / length, Z: n.Z / length}
}
