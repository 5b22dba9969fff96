package mesh

import (
	"fmt"
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"
)

// silhouette is a foreground/background separation of one frame at the
// working resolution. Bright pixels against a dark backdrop read as
// foreground.
type silhouette struct {
	w, h int
	fg   []bool
}

func (s *silhouette) foregroundAt(u, v int) bool {
	if u < 0 {
		u = 0
	} else if u >= s.w {
		u = s.w - 1
	}
	if v < 0 {
		v = 0
	} else if v >= s.h {
		v = s.h - 1
	}
	return s.fg[v*s.w+u]
}

// loadSilhouette decodes a frame, downscales it to size x size, blurs the
// grayscale version and separates foreground from background with an Otsu
// threshold.
func loadSilhouette(path string, size int) (*silhouette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	gray := scaleGray(img, size, size)
	blurred := gaussianBlur5(gray, size, size)
	threshold := otsuThreshold(blurred)

	fg := make([]bool, len(blurred))
	for i, v := range blurred {
		fg[i] = v > threshold
	}
	return &silhouette{w: size, h: size, fg: fg}, nil
}

// scaleGray resamples an image to w x h grayscale with nearest-neighbor
// sampling; quality beyond that is wasted on a 32^3 grid.
func scaleGray(img image.Image, w, h int) []uint8 {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*srcW/w
			r, g, b, _ := img.At(sx, sy).RGBA()
			// ITU-R BT.601 luma, 16-bit channels.
			luma := (299*r + 587*g + 114*b) / 1000
			out[y*w+x] = uint8(luma >> 8)
		}
	}
	return out
}

// gaussianBlur5 applies a separable 5-tap [1 4 6 4 1]/16 kernel with edge
// clamping.
func gaussianBlur5(src []uint8, w, h int) []uint8 {
	kernel := [5]int{1, 4, 6, 4, 1}
	tmp := make([]uint8, len(src))
	out := make([]uint8, len(src))

	clamp := func(v, max int) int {
		if v < 0 {
			return 0
		}
		if v > max {
			return max
		}
		return v
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k := -2; k <= 2; k++ {
				sum += kernel[k+2] * int(src[y*w+clamp(x+k, w-1)])
			}
			tmp[y*w+x] = uint8(sum / 16)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k := -2; k <= 2; k++ {
				sum += kernel[k+2] * int(tmp[clamp(y+k, h-1)*w+x])
			}
			out[y*w+x] = uint8(sum / 16)
		}
	}
	return out
}

// otsuThreshold picks the global threshold minimizing intra-class variance.
func otsuThreshold(pixels []uint8) uint8 {
	var hist [256]int
	for _, p := range pixels {
		hist[p]++
	}
	total := len(pixels)

	sumAll := 0
	for v, n := range hist {
		sumAll += v * n
	}

	var (
		best      float64
		threshold uint8
		wBack     int
		sumBack   int
	)
	for t := 0; t < 256; t++ {
		wBack += hist[t]
		if wBack == 0 {
			continue
		}
		wFore := total - wBack
		if wFore == 0 {
			break
		}
		sumBack += t * hist[t]
		meanBack := float64(sumBack) / float64(wBack)
		meanFore := float64(sumAll-sumBack) / float64(wFore)
		diff := meanBack - meanFore
		between := float64(wBack) * float64(wFore) * diff * diff
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}
