package encoder

import "errors"

var (
	// ErrValidation wraps every rejected request. No process is launched.
	ErrValidation = errors.New("invalid request")
	// ErrNotAVideo is returned by Probe when the file has no readable video stream
	ErrNotAVideo = errors.New("not a video")
	// ErrProbe wraps a probe failure on the encode path
	ErrProbe = errors.New("cannot read source")
	// ErrEncodeFailed means ffmpeg exited non-zero
	ErrEncodeFailed = errors.New("encoding failed")
	ErrCancelled    = errors.New("compression cancelled")
	// ErrSearchExhausted means every ladder step exceeded the size ceiling
	ErrSearchExhausted = errors.New("target size not reachable")
	// ErrBusy is returned when Compress is called while another compression runs
	ErrBusy = errors.New("compression already in progress")
)

// genericFailure is reported when a strategy fails without saying why
const genericFailure = "compression failed"
