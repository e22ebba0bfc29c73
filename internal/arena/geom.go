package arena

import "math"

// Vec2 is a board position.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (a Vec2) Add(b Vec2) Vec2      { return Vec2{a.X + b.X, a.Y + b.Y} }
func (a Vec2) Sub(b Vec2) Vec2      { return Vec2{a.X - b.X, a.Y - b.Y} }
func (a Vec2) Len() float64         { return math.Hypot(a.X, a.Y) }
func (a Vec2) Scale(s float64) Vec2 { return Vec2{a.X * s, a.Y * s} }
func (a Vec2) Dist(b Vec2) float64  { return a.Sub(b).Len() }

func (a Vec2) Norm() Vec2 {
	l := a.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{a.X / l, a.Y / l}
}

// stepToward moves a toward b by at most d without overshooting.
func (a Vec2) stepToward(b Vec2, d float64) Vec2 {
	delta := b.Sub(a)
	if delta.Len() <= d {
		return b
	}
	return a.Add(delta.Norm().Scale(d))
}
