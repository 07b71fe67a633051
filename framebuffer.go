package rpimailbox

import (
	"sync"

	"github.com/go-logr/logr"
)

// Geometry requested for the system framebuffer.
// TODO: ask the display for its preferred mode instead (EDID over the firmware) once that tag is supported.
const (
	FramebufferWidth  uint16 = 1280
	FramebufferHeight uint16 = 720
	FramebufferDepth  uint8  = 32
)

// FramebufferAllocator is implemented by Client.
type FramebufferAllocator interface {
	InitFramebuffer(width, height uint16, depth uint8) (FramebufferAllocation, error)
}

// Framebuffer describes the system framebuffer. It does not change after construction.
// Check Initialized before trusting any other accessor.
type Framebuffer struct {
	width       uint16
	height      uint16
	depth       uint8
	buffer      uint32
	size        uint32
	pitch       uint32
	initialized bool
}

// Initialized reports whether the firmware handed out a framebuffer.
func (f *Framebuffer) Initialized() bool {
	return f.initialized
}

// Width returns the width in pixels.
func (f *Framebuffer) Width() uint16 {
	return f.width
}

// Height returns the height in pixels.
func (f *Framebuffer) Height() uint16 {
	return f.height
}

// Depth returns the bits per pixel.
func (f *Framebuffer) Depth() uint8 {
	return f.depth
}

// Buffer returns the ARM physical address of the pixels.
func (f *Framebuffer) Buffer() uint32 {
	return f.buffer
}

// BufferSize returns the size of the pixel buffer in bytes.
func (f *Framebuffer) BufferSize() uint32 {
	return f.size
}

// Pitch returns the bytes per scanline.
func (f *Framebuffer) Pitch() uint32 {
	return f.pitch
}

// FramebufferResource owns the system framebuffer. It is created once during boot and handed to whatever draws.
// The framebuffer itself is allocated on the first Get and never again, even if that allocation failed.
type FramebufferResource struct {
	alloc FramebufferAllocator
	log   logr.Logger

	once sync.Once
	fb   Framebuffer
}

// NewFramebufferResource creates the resource. No message is sent until Get is called.
func NewFramebufferResource(alloc FramebufferAllocator, log logr.Logger) *FramebufferResource {
	return &FramebufferResource{
		alloc: alloc,
		log:   log.WithName("framebuffer"),
	}
}

// Get returns the framebuffer, allocating it on first use.
func (r *FramebufferResource) Get() *Framebuffer {
	r.once.Do(r.init)
	return &r.fb
}

func (r *FramebufferResource) init() {
	r.fb.width = FramebufferWidth
	r.fb.height = FramebufferHeight
	r.fb.depth = FramebufferDepth

	res, err := r.alloc.InitFramebuffer(r.fb.width, r.fb.height, r.fb.depth)
	if err != nil {
		r.log.Error(err, "failed to initialize framebuffer")
		return
	}
	r.fb.buffer = res.Buffer
	r.fb.size = res.Size
	r.fb.pitch = res.Pitch
	r.fb.initialized = true
	r.log.Info("initialized framebuffer", "width", r.fb.width, "height", r.fb.height, "depth", r.fb.depth)
}
