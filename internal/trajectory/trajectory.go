// Package trajectory provides ground-truth position generators.
//
// A Source is a pure function of time. The shapes here are the small set the
// demo needs to exercise both estimators: a stationary point, straight-line
// motion, smooth turns and a manoeuvring path that switches between
// straight legs and hard turns.
package trajectory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/banshee-data/imm.demo/internal/matrix"
)

// Source yields the true position at time t (seconds). It must be defined
// for every t in [0, maxTime].
type Source interface {
	Position(t float64) matrix.Vec2
}

// Func adapts a plain function to Source.
type Func func(t float64) matrix.Vec2

// Position implements Source.
func (f Func) Position(t float64) matrix.Vec2 { return f(t) }

// Stationary is a fixed point.
type Stationary struct {
	X, Y float64
}

// Position implements Source.
func (s Stationary) Position(float64) matrix.Vec2 { return matrix.Vec2{s.X, s.Y} }

// Linear moves at constant velocity from (X0, Y0).
type Linear struct {
	X0, Y0 float64
	VX, VY float64
}

// Position implements Source.
func (l Linear) Position(t float64) matrix.Vec2 {
	return matrix.Vec2{l.X0 + l.VX*t, l.Y0 + l.VY*t}
}

// Circle orbits the origin counter-clockwise.
type Circle struct {
	Radius float64
	Period float64 // seconds per revolution
}

// Position implements Source.
func (c Circle) Position(t float64) matrix.Vec2 {
	w := 2 * math.Pi / c.Period
	return matrix.Vec2{c.Radius * math.Cos(w*t), c.Radius * math.Sin(w*t)}
}

// FigureEight is a 1:2 Lissajous curve.
type FigureEight struct {
	Width, Height float64
	Period        float64
}

// Position implements Source.
func (f FigureEight) Position(t float64) matrix.Vec2 {
	w := 2 * math.Pi / f.Period
	return matrix.Vec2{f.Width * math.Sin(w*t), f.Height * math.Sin(2*w*t) / 2}
}

// Manoeuvre drives straight legs at constant speed, turning by TurnAngle
// over TurnTime seconds after each leg. The alternation of quiet legs and
// sharp turns is what separates the slow and fast IMM models.
type Manoeuvre struct {
	Speed     float64 // m/s
	LegTime   float64 // seconds of straight travel per leg
	TurnTime  float64 // seconds per turn
	TurnAngle float64 // radians per turn
}

// Position implements Source. Each leg and turn is integrated in closed
// form, so the result is exact for any t.
func (m Manoeuvre) Position(t float64) matrix.Vec2 {
	if m.LegTime <= 0 && m.TurnTime <= 0 {
		return matrix.Vec2{m.Speed * t, 0}
	}
	var x, y, heading float64
	for t > 0 {
		leg := math.Min(t, m.LegTime)
		if leg > 0 {
			x += m.Speed * leg * math.Cos(heading)
			y += m.Speed * leg * math.Sin(heading)
			t -= leg
		}
		if t <= 0 {
			break
		}
		if m.TurnTime <= 0 {
			heading += m.TurnAngle
			continue
		}

		turn := math.Min(t, m.TurnTime)
		rate := m.TurnAngle / m.TurnTime
		if rate == 0 {
			x += m.Speed * turn * math.Cos(heading)
			y += m.Speed * turn * math.Sin(heading)
		} else {
			radius := m.Speed / rate
			end := heading + rate*turn
			x += radius * (math.Sin(end) - math.Sin(heading))
			y -= radius * (math.Cos(end) - math.Cos(heading))
			heading = end
		}
		t -= turn
	}
	return matrix.Vec2{x, y}
}

// Table is a precomputed source sampled every Dt seconds. Lookups between
// samples return the nearest earlier sample; lookups past the end clamp.
type Table struct {
	Dt     float64
	Points []matrix.Vec2
}

// Precompute samples src at k·dt for k = 0 … n−1.
func Precompute(src Source, dt float64, n int) *Table {
	pts := make([]matrix.Vec2, n)
	for k := range pts {
		pts[k] = src.Position(float64(k) * dt)
	}
	return &Table{Dt: dt, Points: pts}
}

// Position implements Source.
func (tb *Table) Position(t float64) matrix.Vec2 {
	if len(tb.Points) == 0 {
		return matrix.Vec2{}
	}
	k := int(math.Floor(t/tb.Dt + 1e-9))
	if k < 0 {
		k = 0
	}
	if k >= len(tb.Points) {
		k = len(tb.Points) - 1
	}
	return tb.Points[k]
}

var shapes = map[string]func() Source{
	"stationary": func() Source { return Stationary{} },
	"linear":     func() Source { return Linear{X0: -150, Y0: -50, VX: 10, VY: 4} },
	"circle":     func() Source { return Circle{Radius: 200, Period: 30} },
	"figure8":    func() Source { return FigureEight{Width: 250, Height: 200, Period: 30} },
	"manoeuvre": func() Source {
		return Manoeuvre{Speed: 15, LegTime: 4, TurnTime: 1, TurnAngle: math.Pi / 2}
	},
}

// Names lists the shapes ByName understands.
func Names() []string {
	names := make([]string, 0, len(shapes))
	for n := range shapes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByName returns one of the built-in shapes.
func ByName(name string) (Source, error) {
	mk, ok := shapes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown trajectory %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return mk(), nil
}
