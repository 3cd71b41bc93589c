package frame

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/modelviewer/swapchain"
)

type call struct {
	op    string
	slot  int
	image int
}

// fakeBackend simulates fences per slot and records every call. A slot's fence is
// "pending" from Submit until the next WaitFrame on that slot.
type fakeBackend struct {
	imageCount     int
	framesInFlight int

	acquire        func(slot int) (int, Status, error)
	presentStatus  []Status
	rebuildErr     error
	recordErr      error
	rebuildImages  int
	calls          []call
	pending        map[int]bool
	lastSubmitSlot map[int]int
	t              *testing.T
}

func newFakeBackend(t *testing.T, imageCount int) *fakeBackend {
	return &fakeBackend{
		t:              t,
		imageCount:     imageCount,
		framesInFlight: FramesInFlight(imageCount),
		pending:        map[int]bool{},
		lastSubmitSlot: map[int]int{},
	}
}

func (f *fakeBackend) FramesInFlight() int { return f.framesInFlight }
func (f *fakeBackend) ImageCount() int { return f.imageCount }

func (f *fakeBackend) WaitFrame(slot int) error {
	f.calls = append(f.calls, call{op: "wait", slot: slot})
	f.pending[slot] = false
	return nil
}

func (f *fakeBackend) Acquire(slot int) (int, Status, error) {
	f.calls = append(f.calls, call{op: "acquire", slot: slot})
	if f.acquire != nil {
		return f.acquire(slot)
	}
	return 0, StatusOK, nil
}

func (f *fakeBackend) Record(slot, imageIndex int) error {
	f.calls = append(f.calls, call{op: "record", slot: slot, image: imageIndex})

	// The submission that last used this image must have completed.
	if last, ok := f.lastSubmitSlot[imageIndex]; ok && f.pending[last] {
		f.t.Errorf("image %d recorded while frame %d may still be using it", imageIndex, last)
	}
	return f.recordErr
}

func (f *fakeBackend) Submit(slot, imageIndex int) error {
	f.calls = append(f.calls, call{op: "submit", slot: slot, image: imageIndex})
	f.pending[slot] = true
	f.lastSubmitSlot[imageIndex] = slot
	return nil
}

func (f *fakeBackend) Present(slot, imageIndex int) (Status, error) {
	f.calls = append(f.calls, call{op: "present", slot: slot, image: imageIndex})
	if len(f.presentStatus) > 0 {
		status := f.presentStatus[0]
		f.presentStatus = f.presentStatus[1:]
		return status, nil
	}
	return StatusOK, nil
}

func (f *fakeBackend) Rebuild() error {
	f.calls = append(f.calls, call{op: "rebuild"})
	if f.rebuildErr != nil {
		return f.rebuildErr
	}

	if f.rebuildImages > 0 {
		f.imageCount = f.rebuildImages
		f.framesInFlight = FramesInFlight(f.rebuildImages)
	}
	f.pending = map[int]bool{}
	f.lastSubmitSlot = map[int]int{}
	return nil
}

func (f *fakeBackend) ops() []string {
	var ops []string
	for _, c := range f.calls {
		ops = append(ops, c.op)
	}
	return ops
}

func (f *fakeBackend) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func TestFramesInFlight(t *testing.T) {
	tests := []struct {
		images int
		want   int
	}{
		{images: 0, want: 1},
		{images: 1, want: 1},
		{images: 2, want: 2},
		{images: 3, want: 2},
		{images: 8, want: 2},
	}

	for _, tt := range tests {
		got := FramesInFlight(tt.images)
		if got != tt.want {
			t.Errorf("FramesInFlight(%d) = %d, want %d", tt.images, got, tt.want)
		}
		if got < 1 || (tt.images > 0 && got > tt.images) {
			t.Errorf("FramesInFlight(%d) = %d out of bounds", tt.images, got)
		}
	}
}

func TestDrawFrameOrder(t *testing.T) {
	backend := newFakeBackend(t, 3)
	backend.acquire = func(slot int) (int, Status, error) { return 1, StatusOK, nil }

	s := NewScheduler(backend, nil)
	outcome, err := s.DrawFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != FramePresented {
		t.Errorf("outcome = %s, want presented", outcome)
	}

	want := []string{"wait", "acquire", "record", "submit", "present"}
	got := backend.ops()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}

	if s.CurrentFrame() != 1 {
		t.Errorf("current frame = %d, want 1", s.CurrentFrame())
	}
	if s.Stats().FramesPresented != 1 {
		t.Errorf("frames presented = %d, want 1", s.Stats().FramesPresented)
	}
}

func TestAcquireOutOfDateSkipsFrame(t *testing.T) {
	backend := newFakeBackend(t, 3)
	outOfDate := true
	backend.acquire = func(slot int) (int, Status, error) {
		if outOfDate {
			outOfDate = false
			return -1, StatusOutOfDate, nil
		}
		return 0, StatusOK, nil
	}

	s := NewScheduler(backend, nil)
	outcome, err := s.DrawFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != FrameSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}
	if backend.count("submit") != 0 || backend.count("present") != 0 {
		t.Errorf("skipped frame submitted or presented: %v", backend.ops())
	}
	if backend.count("rebuild") != 1 {
		t.Fatalf("expected one rebuild, got %v", backend.ops())
	}

	calls := len(backend.calls)
	outcome, err = s.DrawFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != FramePresented {
		t.Errorf("second outcome = %s, want presented", outcome)
	}
	for _, c := range backend.calls[calls:] {
		if c.op == "rebuild" {
			t.Error("rebuild must happen before the next frame, not during it")
		}
	}

	stats := s.Stats()
	if stats.FramesSkipped != 1 || stats.Rebuilds != 1 || stats.FramesPresented != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestPresentTriggersRebuild(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		invalidate bool
	}{
		{name: "out of date", status: StatusOutOfDate},
		{name: "suboptimal", status: StatusSuboptimal},
		{name: "resize notification", status: StatusOK, invalidate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(t, 3)
			backend.presentStatus = []Status{tt.status}

			s := NewScheduler(backend, nil)
			if tt.invalidate {
				s.Invalidate()
			}

			outcome, err := s.DrawFrame()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome != FrameRebuilt {
				t.Errorf("outcome = %s, want rebuilt", outcome)
			}
			if backend.count("rebuild") != 1 {
				t.Errorf("expected one rebuild, got %v", backend.ops())
			}

			outcome, err = s.DrawFrame()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome != FramePresented {
				t.Errorf("next outcome = %s, want presented", outcome)
			}
		})
	}
}

func TestFatalErrors(t *testing.T) {
	boom := errors.New("device lost")

	tests := []struct {
		name  string
		setup func(b *fakeBackend)
	}{
		{name: "acquire", setup: func(b *fakeBackend) {
			b.acquire = func(int) (int, Status, error) { return -1, StatusOK, boom }
		}},
		{name: "record", setup: func(b *fakeBackend) { b.recordErr = boom }},
		{name: "rebuild", setup: func(b *fakeBackend) {
			b.presentStatus = []Status{StatusOutOfDate}
			b.rebuildErr = boom
		}},
		{name: "bad image index", setup: func(b *fakeBackend) {
			b.acquire = func(int) (int, Status, error) { return 7, StatusOK, nil }
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(t, 3)
			tt.setup(backend)

			_, err := NewScheduler(backend, nil).DrawFrame()
			if !errors.Is(err, ErrFatal) {
				t.Fatalf("expected fatal error, got %v", err)
			}
		})
	}
}

func TestRebuildAfterCloseIsNotFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *fakeBackend)
		want  Outcome
	}{
		{name: "acquire out of date", want: FrameSkipped, setup: func(b *fakeBackend) {
			b.acquire = func(int) (int, Status, error) { return 0, StatusOutOfDate, nil }
		}},
		{name: "present suboptimal", want: FrameRebuilt, setup: func(b *fakeBackend) {
			b.presentStatus = []Status{StatusSuboptimal}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(t, 3)
			backend.rebuildErr = swapchain.ErrClosed
			tt.setup(backend)

			s := NewScheduler(backend, nil)
			outcome, err := s.DrawFrame()
			if !errors.Is(err, swapchain.ErrClosed) {
				t.Fatalf("err = %v, want swapchain.ErrClosed", err)
			}
			if errors.Is(err, ErrFatal) {
				t.Error("a closed window should not be reported as fatal")
			}
			if outcome != tt.want {
				t.Errorf("outcome = %s, want %s", outcome, tt.want)
			}
			if s.Stats().Rebuilds != 0 {
				t.Errorf("rebuilds = %d, want 0", s.Stats().Rebuilds)
			}
		})
	}
}

func TestRebuildResetsSlots(t *testing.T) {
	backend := newFakeBackend(t, 3)
	backend.presentStatus = []Status{StatusOK, StatusOutOfDate}
	backend.rebuildImages = 1

	s := NewScheduler(backend, nil)
	for i := 0; i < 2; i++ {
		_, err := s.DrawFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	if s.FramesInFlight() != 1 {
		t.Errorf("frames in flight = %d, want 1", s.FramesInFlight())
	}
	if s.CurrentFrame() != 0 {
		t.Errorf("current frame = %d, want 0", s.CurrentFrame())
	}

	backend.acquire = func(int) (int, Status, error) { return 0, StatusOK, nil }
	_, err := s.DrawFrame()
	if err != nil {
		t.Fatalf("frame after rebuild: %v", err)
	}
}

func TestImageReuseWaitsForPreviousSubmission(t *testing.T) {
	for _, imageCount := range []int{1, 2, 3, 4} {
		backend := newFakeBackend(t, imageCount)
		rng := rand.New(rand.NewSource(int64(imageCount)))
		backend.acquire = func(int) (int, Status, error) {
			if rng.Intn(20) == 0 {
				return -1, StatusOutOfDate, nil
			}
			return rng.Intn(imageCount), StatusOK, nil
		}

		s := NewScheduler(backend, nil)
		for frame := 0; frame < 500; frame++ {
			_, err := s.DrawFrame()
			if err != nil {
				t.Fatalf("%d images, frame %d: %v", imageCount, frame, err)
			}
			if s.CurrentFrame() < 0 || s.CurrentFrame() >= s.FramesInFlight() {
				t.Fatalf("current frame %d outside [0, %d)", s.CurrentFrame(), s.FramesInFlight())
			}
		}
	}
}
