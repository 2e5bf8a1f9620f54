// internal/browser/humanoid/vector.go
package humanoid

import "math"

// Vector2D represents a point or vector in viewport coordinates.
type Vector2D struct {
	X float64
	Y float64
}

// Add performs vector addition, returning a new Vector2D `v + other`.
func (v Vector2D) Add(other Vector2D) Vector2D {
	return Vector2D{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub performs vector subtraction, returning a new Vector2D `v - other`.
func (v Vector2D) Sub(other Vector2D) Vector2D {
	return Vector2D{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul performs scalar multiplication, returning a new Vector2D `v * scalar`.
func (v Vector2D) Mul(scalar float64) Vector2D {
	return Vector2D{X: v.X * scalar, Y: v.Y * scalar}
}

// Abs returns the component-wise absolute value.
func (v Vector2D) Abs() Vector2D {
	return Vector2D{X: math.Abs(v.X), Y: math.Abs(v.Y)}
}

// Mag calculates the magnitude (Euclidean length) of the vector, `|v|`.
func (v Vector2D) Mag() float64 {
	// math.Hypot is stable for very large or small components.
	return math.Hypot(v.X, v.Y)
}

// Dist calculates the Euclidean distance between `v` and `other`.
func (v Vector2D) Dist(other Vector2D) float64 {
	return math.Hypot(v.X-other.X, v.Y-other.Y)
}

// Lerp interpolates between v and other; t=0 yields v and t=1 yields other.
func (v Vector2D) Lerp(other Vector2D, t float64) Vector2D {
	return v.Add(other.Sub(v).Mul(t))
}

// box is an axis-aligned rectangle in viewport coordinates.
type box struct {
	Min, Max Vector2D
}

func (b box) Contains(p Vector2D) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

func (b box) Size() Vector2D {
	return b.Max.Sub(b.Min)
}
