package sampler

import "math"

// BaseStride is the grid step, in working-raster pixels, at 100% density.
const BaseStride = 4

// Point is a normalized image-space coordinate that passed the threshold test.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Brightness is the unweighted mean of the three color channels.
func Brightness(r, g, b uint8) float64 {
	return (float64(r) + float64(g) + float64(b)) / 3
}

// Passes is the threshold test shared by the wall sampler and the silhouette grid.
func Passes(brightness float64, threshold int, invert bool) bool {
	if invert {
		return brightness < float64(threshold)
	}
	return brightness > float64(threshold)
}

// Stride converts a density percentage into a grid step. Higher density gives a
// smaller step; the result is never below 1.
func Stride(density int) int {
	if density < 1 {
		density = 1
	}
	s := int(math.Round(float64(BaseStride) * 100 / float64(density)))
	if s < 1 {
		return 1
	}
	return s
}
