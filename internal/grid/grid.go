// Package grid defines the integer service area and distance math shared by
// the matcher and the ingest validator.
package grid

import "math"

// Point is a position on the service grid.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bounds is the inclusive box [0,MaxX] x [0,MaxY].
type Bounds struct {
	MaxX int
	MaxY int
}

// Contains reports whether p lies inside the bounds (both edges inclusive).
func (b Bounds) Contains(p Point) bool {
	return p.X >= 0 && p.X <= b.MaxX && p.Y >= 0 && p.Y <= b.MaxY
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
