package camera

import (
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/modelviewer/input"
)

func near(a, b mgl32.Vec3) bool {
	return a.ApproxEqualThreshold(b, 1e-4)
}

func TestOrbitPosition(t *testing.T) {
	tests := []struct {
		name       string
		distance   float32
		target     mgl32.Vec3
		yaw, pitch float32
		want       mgl32.Vec3
	}{
		{name: "default", distance: 1, want: mgl32.Vec3{1, 0, 0}},
		{name: "yaw 90", distance: 2, yaw: 90, want: mgl32.Vec3{0, 0, 2}},
		{name: "pitch 90", distance: 3, pitch: 90, want: mgl32.Vec3{0, 3, 0}},
		{name: "offset target", distance: 1, target: mgl32.Vec3{5, 5, 5}, yaw: 180, want: mgl32.Vec3{4, 5, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrbit()
			o.Distance = tt.distance
			o.Target = tt.target
			o.Yaw = tt.yaw
			o.Pitch = tt.pitch

			if got := o.Position(); !near(got, tt.want) {
				t.Errorf("position = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrbitViewLooksAtTarget(t *testing.T) {
	o := NewOrbit()
	o.Distance = 4
	o.Target = mgl32.Vec3{1, 2, 3}
	o.Yaw = 30
	o.Pitch = 20

	// The target sits on the view's negative Z axis at the orbit distance.
	got := mgl32.TransformCoordinate(o.Target, o.View())
	if !near(got, mgl32.Vec3{0, 0, -4}) {
		t.Errorf("target in view space = %v", got)
	}
}

func TestOrbitProjectionAspect(t *testing.T) {
	o := NewOrbit()
	o.SetViewport(1600, 900)
	if math.Abs(float64(o.Aspect)-16.0/9.0) > 1e-6 {
		t.Errorf("aspect = %v", o.Aspect)
	}

	o.SetViewport(0, 0)
	if math.Abs(float64(o.Aspect)-16.0/9.0) > 1e-6 {
		t.Error("zero size must not change the aspect")
	}

	want := mgl32.Perspective(mgl32.DegToRad(90), o.Aspect, 0.1, 100)
	if o.Projection() != want {
		t.Error("projection differs from a 90 degree perspective")
	}
}

func snapshot(events ...sdl.Event) input.Snapshot {
	tracker := input.NewTracker()
	for _, e := range events {
		tracker.HandleEvent(e)
	}
	return tracker.Snapshot()
}

func TestOrbitUpdate(t *testing.T) {
	o := NewOrbit()

	o.Update(snapshot(
		&sdl.MouseButtonEvent{Type: sdl.MOUSEBUTTONDOWN, Button: 1},
		&sdl.MouseMotionEvent{X: 0, Y: 0},
		&sdl.MouseMotionEvent{X: 100, Y: 50},
	), 0)
	if math.Abs(float64(o.Yaw-30)) > 1e-4 || math.Abs(float64(o.Pitch-15)) > 1e-4 {
		t.Errorf("drag gave yaw %v pitch %v, want 30 and 15", o.Yaw, o.Pitch)
	}

	o.Update(snapshot(&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Sym: sdl.K_UP}}), 10*time.Second)
	if o.Pitch != maxPitch {
		t.Errorf("pitch = %v, want clamped to %v", o.Pitch, float32(maxPitch))
	}

	o.Update(snapshot(&sdl.MouseWheelEvent{Y: 2}), 0)
	if math.Abs(float64(o.Distance)-0.81) > 1e-5 {
		t.Errorf("distance = %v, want 0.81", o.Distance)
	}

	o.Update(snapshot(&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Sym: sdl.K_r}}), 0)
	if o.Yaw != 0 || o.Pitch != 0 || o.Distance != 1 {
		t.Errorf("reset left yaw %v pitch %v distance %v", o.Yaw, o.Pitch, o.Distance)
	}
}

func TestOrbitResetOnQuickTap(t *testing.T) {
	o := NewOrbit()
	o.Yaw, o.Pitch, o.Distance = 40, 20, 5

	o.Update(snapshot(
		&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Sym: sdl.K_r}},
		&sdl.KeyboardEvent{Type: sdl.KEYUP, Keysym: sdl.Keysym{Sym: sdl.K_r}},
	), 0)
	if o.Yaw != 0 || o.Pitch != 0 || o.Distance != 1 {
		t.Errorf("tap on R left yaw %v pitch %v distance %v", o.Yaw, o.Pitch, o.Distance)
	}
}

func TestOrbitFrame(t *testing.T) {
	o := NewOrbit()
	o.Frame(mgl32.Vec3{0, 1, 0}, 2)

	if o.Target != (mgl32.Vec3{0, 1, 0}) {
		t.Errorf("target = %v", o.Target)
	}
	// 90 degree field of view: the sphere touches the view at distance r / sin(45).
	want := float32(2 / math.Sin(math.Pi/4))
	if math.Abs(float64(o.Distance-want)) > 1e-4 {
		t.Errorf("distance = %v, want %v", o.Distance, want)
	}
	if o.Near <= 0 || o.Far <= o.Distance {
		t.Errorf("bad clip planes near %v far %v", o.Near, o.Far)
	}

	o.Yaw = 45
	o.Distance = 100
	o.Reset()
	if o.Yaw != 0 || math.Abs(float64(o.Distance-want)) > 1e-4 {
		t.Error("reset should return to the framed placement")
	}
}
