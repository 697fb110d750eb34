// Package render draws and encodes the images returned to clients.
//
// Figures are raster canvases backed by OpenCV memory. Every figure belongs
// to a Scope created for one invocation; closing the scope releases whatever
// the invocation left open. There is no process-wide drawing state, only a
// counter of live figures used for leak checks.
package render

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

var openFigures atomic.Int64

// OpenFigures returns the number of figures not yet closed in this process
func OpenFigures() int {
	return int(openFigures.Load())
}

// Figure is a white BGR canvas
type Figure struct {
	Canvas gocv.Mat
	once   sync.Once
}

// Close releases the canvas. Calling it more than once is a no-op.
func (f *Figure) Close() {
	f.once.Do(func() {
		f.Canvas.Close()
		openFigures.Add(-1)
	})
}

// Scope owns the figures of one invocation
type Scope struct {
	mu      sync.Mutex
	figures []*Figure
	closed  bool
}

// NewScope creates an empty figure scope
func NewScope() *Scope {
	return &Scope{}
}

// NewFigure allocates a width x height canvas owned by the scope
func (s *Scope) NewFigure(width, height int) (*Figure, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid figure size %dx%d", width, height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("figure scope already closed")
	}

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), height, width, gocv.MatTypeCV8UC3)
	openFigures.Add(1)

	fig := &Figure{Canvas: canvas}
	s.figures = append(s.figures, fig)
	return fig, nil
}

// Close releases every figure of the scope
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fig := range s.figures {
		fig.Close()
	}
	s.figures = nil
	s.closed = true
}
