// Package input turns window system events into per-frame snapshots of keyboard
// and mouse state.
package input

import (
	"github.com/veandco/go-sdl2/sdl"
)

// Key identifies a keyboard key or a mouse button. Keys use SDL key codes; mouse
// buttons are negative so the two never collide.
type Key int

const (
	MouseLeft   Key = -1
	MouseMiddle Key = -2
	MouseRight  Key = -3
)

var (
	KeyLeft   = Key(sdl.K_LEFT)
	KeyRight  = Key(sdl.K_RIGHT)
	KeyUp     = Key(sdl.K_UP)
	KeyDown   = Key(sdl.K_DOWN)
	KeyW      = Key(sdl.K_w)
	KeyA      = Key(sdl.K_a)
	KeyS      = Key(sdl.K_s)
	KeyD      = Key(sdl.K_d)
	KeyR      = Key(sdl.K_r)
	KeyEscape = Key(sdl.K_ESCAPE)
)

func mouseKey(button uint8) Key {
	return Key(-int(button))
}

// Snapshot is the input state for one frame. Pressed and Released only hold keys
// whose state changed during the frame; Held holds every key that is down.
type Snapshot struct {
	pressed  map[Key]bool
	released map[Key]bool
	held     map[Key]bool

	MouseX, MouseY   int
	DeltaX, DeltaY   int
	ScrollX, ScrollY int
}

func (s Snapshot) IsPressed(key Key) bool { return s.pressed[key] }
func (s Snapshot) IsReleased(key Key) bool { return s.released[key] }
func (s Snapshot) IsDown(key Key) bool { return s.held[key] }

// Tracker accumulates events between frames. It is used from the thread that pumps
// window events.
type Tracker struct {
	pressed  map[Key]bool
	released map[Key]bool
	held     map[Key]bool

	mouseX, mouseY   int
	deltaX, deltaY   int
	scrollX, scrollY int
	seenMouse        bool
}

func NewTracker() *Tracker {
	return &Tracker{
		pressed:  make(map[Key]bool),
		released: make(map[Key]bool),
		held:     make(map[Key]bool),
	}
}

func (t *Tracker) Press(key Key) {
	if !t.held[key] {
		t.pressed[key] = true
	}
	t.held[key] = true
}

// Release marks key as up. A press earlier in the same frame is still reported by the
// next snapshot, so a quick tap is not lost.
func (t *Tracker) Release(key Key) {
	delete(t.held, key)
	t.released[key] = true
}

// MoveMouse records an absolute cursor position. The first position seen produces
// no delta.
func (t *Tracker) MoveMouse(x, y int) {
	if t.seenMouse {
		t.deltaX += x - t.mouseX
		t.deltaY += y - t.mouseY
	}
	t.mouseX, t.mouseY = x, y
	t.seenMouse = true
}

func (t *Tracker) Scroll(x, y int) {
	t.scrollX += x
	t.scrollY += y
}

// HandleEvent feeds one SDL event into the tracker. Events it does not care about
// are ignored.
func (t *Tracker) HandleEvent(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.KeyboardEvent:
		if e.Repeat != 0 {
			return
		}
		if e.Type == sdl.KEYDOWN {
			t.Press(Key(e.Keysym.Sym))
		} else if e.Type == sdl.KEYUP {
			t.Release(Key(e.Keysym.Sym))
		}
	case *sdl.MouseButtonEvent:
		if e.Type == sdl.MOUSEBUTTONDOWN {
			t.Press(mouseKey(e.Button))
		} else if e.Type == sdl.MOUSEBUTTONUP {
			t.Release(mouseKey(e.Button))
		}
	case *sdl.MouseMotionEvent:
		t.MoveMouse(int(e.X), int(e.Y))
	case *sdl.MouseWheelEvent:
		t.Scroll(int(e.X), int(e.Y))
	}
}

// Snapshot returns the state accumulated since the previous call and starts a new
// frame: pressed and released keys, mouse delta and scroll are cleared.
func (t *Tracker) Snapshot() Snapshot {
	held := make(map[Key]bool, len(t.held))
	for key := range t.held {
		held[key] = true
	}

	s := Snapshot{
		pressed:  t.pressed,
		released: t.released,
		held:     held,
		MouseX:   t.mouseX,
		MouseY:   t.mouseY,
		DeltaX:   t.deltaX,
		DeltaY:   t.deltaY,
		ScrollX:  t.scrollX,
		ScrollY:  t.scrollY,
	}

	t.pressed = make(map[Key]bool)
	t.released = make(map[Key]bool)
	t.deltaX, t.deltaY = 0, 0
	t.scrollX, t.scrollY = 0, 0
	return s
}
