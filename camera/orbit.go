// Package camera provides an orbit camera that circles a target point.
package camera

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/modelviewer/input"
)

const (
	maxPitch    = 89
	minDistance = 0.01

	// degrees per pixel of mouse drag
	dragSpeed = 0.3
	// degrees per second while an arrow key is held
	keySpeed  = 90
	zoomSteps = 0.9
)

var up = mgl32.Vec3{0, 1, 0}

// Orbit looks at Target from Distance away. Yaw and Pitch are in degrees; yaw 0 puts
// the camera on the positive X axis and positive pitch raises it.
type Orbit struct {
	Distance float32
	Target   mgl32.Vec3
	Yaw      float32
	Pitch    float32

	// FieldOfView is the vertical field of view in degrees.
	FieldOfView float32
	Near, Far   float32
	Aspect      float32

	home placement
}

// placement is where Reset returns the camera to.
type placement struct {
	Distance   float32
	Target     mgl32.Vec3
	Yaw, Pitch float32
}

func NewOrbit() *Orbit {
	o := &Orbit{
		Distance:    1,
		FieldOfView: 90,
		Near:        0.1,
		Far:         100,
		Aspect:      1,
	}
	o.home = o.current()
	return o
}

func (o *Orbit) current() placement {
	return placement{Distance: o.Distance, Target: o.Target, Yaw: o.Yaw, Pitch: o.Pitch}
}

// Position returns the camera's location in world space.
func (o *Orbit) Position() mgl32.Vec3 {
	pitch := float64(mgl32.DegToRad(o.Pitch))
	yaw := float64(mgl32.DegToRad(o.Yaw))

	offset := mgl32.Vec3{
		float32(math.Cos(yaw) * math.Cos(pitch)),
		float32(math.Sin(pitch)),
		float32(math.Sin(yaw) * math.Cos(pitch)),
	}.Mul(o.Distance)

	return o.Target.Add(offset)
}

func (o *Orbit) View() mgl32.Mat4 {
	return mgl32.LookAtV(o.Position(), o.Target, up)
}

// Projection returns a right-handed perspective projection in OpenGL clip space.
func (o *Orbit) Projection() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(o.FieldOfView), o.Aspect, o.Near, o.Far)
}

func (o *Orbit) SetViewport(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	o.Aspect = float32(width) / float32(height)
}

// Frame places the camera so a sphere of the given radius around center fills the
// view, and makes that placement the one Reset returns to.
func (o *Orbit) Frame(center mgl32.Vec3, radius float32) {
	if radius <= 0 {
		radius = 1
	}

	halfFov := float64(mgl32.DegToRad(o.FieldOfView)) / 2
	o.Target = center
	o.Distance = radius / float32(math.Sin(halfFov))
	o.Near = o.Distance / 100
	o.Far = o.Distance + radius*4
	o.home = o.current()
}

func (o *Orbit) Reset() {
	o.Distance = o.home.Distance
	o.Target = o.home.Target
	o.Yaw = o.home.Yaw
	o.Pitch = o.home.Pitch
}

// Update applies one frame of input: dragging with the left button or holding the
// arrow keys orbits, scrolling zooms and R resets.
func (o *Orbit) Update(in input.Snapshot, dt time.Duration) {
	if in.IsPressed(input.KeyR) {
		o.Reset()
		return
	}

	if in.IsDown(input.MouseLeft) {
		o.Yaw += float32(in.DeltaX) * dragSpeed
		o.Pitch += float32(in.DeltaY) * dragSpeed
	}

	step := float32(dt.Seconds()) * keySpeed
	if in.IsDown(input.KeyLeft) || in.IsDown(input.KeyA) {
		o.Yaw -= step
	}
	if in.IsDown(input.KeyRight) || in.IsDown(input.KeyD) {
		o.Yaw += step
	}
	if in.IsDown(input.KeyUp) || in.IsDown(input.KeyW) {
		o.Pitch += step
	}
	if in.IsDown(input.KeyDown) || in.IsDown(input.KeyS) {
		o.Pitch -= step
	}

	if in.ScrollY != 0 {
		o.Distance *= float32(math.Pow(zoomSteps, float64(in.ScrollY)))
	}

	o.clamp()
}

func (o *Orbit) clamp() {
	o.Pitch = mgl32.Clamp(o.Pitch, -maxPitch, maxPitch)
	o.Yaw = float32(math.Mod(float64(o.Yaw), 360))
	if o.Distance < minDistance {
		o.Distance = minDistance
	}
}
