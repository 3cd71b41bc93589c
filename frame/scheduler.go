package frame

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/modelviewer/swapchain"
	"golang.org/x/exp/slog"
)

// ErrFatal marks errors after which the frame loop cannot continue. Everything should
// be torn down and the process should exit.
var ErrFatal = errors.New("fatal frame error")

// MaxFramesInFlight bounds how many frames the CPU may record ahead of the GPU.
const MaxFramesInFlight = 2

// FramesInFlight returns the number of frame slots used for a swapchain with
// imageCount images. It is never more than the image count, never more than
// MaxFramesInFlight, and never less than one.
func FramesInFlight(imageCount int) int {
	n := imageCount
	if n > MaxFramesInFlight {
		n = MaxFramesInFlight
	}
	if n < 1 {
		n = 1
	}
	return n
}

type Status int

const (
	StatusOK Status = iota
	// StatusSuboptimal means the swapchain still works but no longer matches the
	// surface exactly.
	StatusSuboptimal
	// StatusOutOfDate means the swapchain can no longer be used with the surface.
	StatusOutOfDate
)

type Outcome int

const (
	FramePresented Outcome = iota
	FrameSkipped
	FrameRebuilt
)

func (o Outcome) String() string {
	switch o {
	case FramePresented:
		return "presented"
	case FrameSkipped:
		return "skipped"
	case FrameRebuilt:
		return "rebuilt"
	}
	return "unknown"
}

// Backend performs the GPU side of each step of a frame. Slots index the per-frame
// synchronization set and range over [0, FramesInFlight()). Image indices range over
// [0, ImageCount()).
type Backend interface {
	FramesInFlight() int
	ImageCount() int

	// WaitFrame blocks until the work last submitted from slot has completed.
	WaitFrame(slot int) error
	Acquire(slot int) (imageIndex int, status Status, err error)
	Record(slot, imageIndex int) error
	// Submit resets the slot's fence and submits the image's command buffer.
	Submit(slot, imageIndex int) error
	Present(slot, imageIndex int) (Status, error)
	Rebuild() error
}

type Stats struct {
	FramesPresented int
	FramesSkipped   int
	Rebuilds        int
	LastFrame       time.Duration
}

// Scheduler drives the acquire, record, submit and present cycle over a fixed number of
// frame slots. It makes sure a swapchain image is never recorded into while an earlier
// submission that used it may still be executing.
type Scheduler struct {
	backend Backend
	logger  *slog.Logger

	current        int
	framesInFlight int
	// imageOwner holds, per swapchain image, the slot whose submission last used the
	// image, or -1.
	imageOwner  []int
	invalidated bool

	stats Stats
}

func NewScheduler(backend Backend, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{backend: backend, logger: logger}
	s.reset()
	return s
}

func (s *Scheduler) reset() {
	n := s.backend.FramesInFlight()
	if n != s.framesInFlight {
		s.current = 0
	}
	s.framesInFlight = n

	s.imageOwner = make([]int, s.backend.ImageCount())
	for i := range s.imageOwner {
		s.imageOwner[i] = -1
	}
}

// Invalidate asks for the swapchain to be rebuilt after the next present, as happens
// when the window reports a resize.
func (s *Scheduler) Invalidate() {
	s.invalidated = true
}

func (s *Scheduler) Stats() Stats { return s.stats }
func (s *Scheduler) CurrentFrame() int { return s.current }
func (s *Scheduler) FramesInFlight() int { return s.framesInFlight }

func fatal(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrFatal)
}

func (s *Scheduler) rebuild() error {
	err := s.backend.Rebuild()
	if errors.Is(err, swapchain.ErrClosed) {
		return errors.Wrap(err, "rebuild swapchain")
	}
	if err != nil {
		return fatal(err, "rebuild swapchain")
	}

	s.invalidated = false
	s.stats.Rebuilds++
	s.reset()

	s.logger.Debug("frame resources rebuilt",
		slog.Int("images", len(s.imageOwner)),
		slog.Int("framesInFlight", s.framesInFlight),
	)
	return nil
}

// DrawFrame runs one frame. Any returned error is marked with ErrFatal, except
// swapchain.ErrClosed from a rebuild that was abandoned because the window closed.
func (s *Scheduler) DrawFrame() (Outcome, error) {
	start := hrtime.Now()
	defer func() {
		s.stats.LastFrame = hrtime.Since(start)
	}()

	slot := s.current

	err := s.backend.WaitFrame(slot)
	if err != nil {
		return FrameSkipped, fatal(err, "wait for frame %d", slot)
	}

	imageIndex, status, err := s.backend.Acquire(slot)
	if err != nil {
		return FrameSkipped, fatal(err, "acquire image for frame %d", slot)
	}

	if status == StatusOutOfDate {
		s.stats.FramesSkipped++
		return FrameSkipped, s.rebuild()
	}

	if imageIndex < 0 || imageIndex >= len(s.imageOwner) {
		return FrameSkipped, fatal(errors.Newf("image index %d out of %d", imageIndex, len(s.imageOwner)), "acquire image")
	}

	owner := s.imageOwner[imageIndex]
	if owner >= 0 {
		err = s.backend.WaitFrame(owner)
		if err != nil {
			return FrameSkipped, fatal(err, "wait for image %d held by frame %d", imageIndex, owner)
		}
	}
	s.imageOwner[imageIndex] = slot

	err = s.backend.Record(slot, imageIndex)
	if err != nil {
		return FrameSkipped, fatal(err, "record image %d", imageIndex)
	}

	err = s.backend.Submit(slot, imageIndex)
	if err != nil {
		return FrameSkipped, fatal(err, "submit image %d", imageIndex)
	}

	presentStatus, err := s.backend.Present(slot, imageIndex)
	if err != nil {
		return FrameSkipped, fatal(err, "present image %d", imageIndex)
	}
	s.stats.FramesPresented++
	s.current = (s.current + 1) % s.framesInFlight

	if presentStatus != StatusOK || s.invalidated {
		return FrameRebuilt, s.rebuild()
	}

	return FramePresented, nil
}
