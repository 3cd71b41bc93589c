package window

import (
	"testing"

	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/modelviewer/input"
)

func TestHandleEvents(t *testing.T) {
	tests := []struct {
		name        string
		event       sdl.Event
		wantClose   bool
		wantResized bool
	}{
		{name: "quit", event: &sdl.QuitEvent{Type: sdl.QUIT}, wantClose: true},
		{name: "window close", event: &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_CLOSE}, wantClose: true},
		{name: "resize", event: &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESIZED}, wantResized: true},
		{name: "size changed", event: &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_SIZE_CHANGED}, wantResized: true},
		{name: "escape", event: &sdl.KeyboardEvent{Type: sdl.KEYUP, Keysym: sdl.Keysym{Sym: sdl.K_ESCAPE}}, wantClose: true},
		{name: "other key", event: &sdl.KeyboardEvent{Type: sdl.KEYUP, Keysym: sdl.Keysym{Sym: sdl.K_w}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Window{input: input.NewTracker()}
			w.handle(tt.event)

			if w.ShouldClose() != tt.wantClose {
				t.Errorf("close requested = %v, want %v", w.ShouldClose(), tt.wantClose)
			}
			if w.TakeResized() != tt.wantResized {
				t.Errorf("resized = %v, want %v", !tt.wantResized, tt.wantResized)
			}
			if w.TakeResized() {
				t.Error("resize should only be reported once")
			}
		})
	}
}

func TestHandleForwardsInput(t *testing.T) {
	w := &Window{input: input.NewTracker()}
	w.handle(&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Sym: sdl.K_a}})

	if !w.Input().Snapshot().IsDown(input.KeyA) {
		t.Error("key events should reach the input tracker")
	}
}

func TestDestroyWithoutWindow(t *testing.T) {
	var nilWindow *Window
	nilWindow.Destroy()

	w := &Window{}
	w.Destroy()
}
