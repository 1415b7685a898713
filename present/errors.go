package present

import "github.com/cockroachdb/errors"

var (
	// ErrSurfaceLost marks acquire and present failures that rebuilding the swapchain cannot fix.
	// The presentation path is unusable for the rest of the session.
	ErrSurfaceLost = errors.New("presentation surface lost")
	// ErrNoSurfaceFormats is returned when the surface reports no formats at all
	ErrNoSurfaceFormats = errors.New("surface reports no supported formats")
)
