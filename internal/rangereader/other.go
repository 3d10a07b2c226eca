//go:build !linux && !darwin && !freebsd && !windows

package rangereader

// New returns the whole-file fallback reader on platforms without a
// known extent-map or hole-seek primitive (§4.A "Fallback").
func New(opts ...Option) Reader {
	return NewFallback(opts...)
}
