package composer

import (
	"github.com/csheth/quill/internal/attach"
	"github.com/csheth/quill/internal/pdfraster"
)

// SendFunc receives the serialized message. The conversation id is passed only
// when one is configured, so callers see exactly one or two arguments.
type SendFunc func(payload string, conversationID ...string) error

// ErrorPolicy decides what a failed read or rasterization does.
type ErrorPolicy int

const (
	// ErrorSurface records a transient notice; thumbnails already derived stay.
	ErrorSurface ErrorPolicy = iota
	// ErrorDrop logs the failure and leaves no trace in the state.
	ErrorDrop
)

// UnsupportedPolicy decides what selecting a non-image, non-PDF file does.
type UnsupportedPolicy int

const (
	// UnsupportedIgnore accepts the selection and derives nothing.
	UnsupportedIgnore UnsupportedPolicy = iota
	// UnsupportedNotify also records a notice naming the rejected type.
	UnsupportedNotify
)

// SlotMode selects how derived images reach the thumbnail list.
type SlotMode int

const (
	// SlotDirect queues derivations in selection order and appends each
	// derived image straight to the thumbnails.
	SlotDirect SlotMode = iota
	// SlotSingle starts every derivation immediately and routes direct image
	// reads through a one-entry buffer that a later flush event drains. A
	// second read landing before the flush overwrites and drops the first.
	SlotSingle
)

func (m SlotMode) String() string {
	if m == SlotSingle {
		return "single-slot"
	}
	return "direct"
}

// Options configures a Controller. The zero value is a usable composer with
// no send target.
type Options struct {
	Disabled       bool
	Placeholder    string
	ClearOnSend    bool
	ConversationID string
	Send           SendFunc

	Errors      ErrorPolicy
	Unsupported UnsupportedPolicy
	Slot        SlotMode
	// Scale is the page oversampling factor; zero means 3x.
	Scale float64
	// MaxFileSize bounds image and document reads; zero means attach.DefaultMaxSize.
	MaxFileSize int64
}

func (o Options) scale() float64 {
	if o.Scale <= 0 {
		return pdfraster.DefaultScale
	}
	return o.Scale
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize <= 0 {
		return attach.DefaultMaxSize
	}
	return o.MaxFileSize
}
