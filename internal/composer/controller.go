// Package composer holds the question composer: the draft text, the selected
// attachment, the thumbnails derived from it and the outgoing message built on
// submit. State changes go through Reduce; asynchronous work is described as
// Effects that an Executor runs and turns back into Events.
package composer

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/csheth/quill/internal/attach"
	"github.com/csheth/quill/internal/message"
)

// ErrNoSender is returned by Submit when no send callback is configured.
var ErrNoSender = errors.New("composer has no send callback")

// Previewer materializes a transient preview of the selected file.
type Previewer interface {
	Acquire(f *attach.File) (Lease, error)
}

// Lease is a preview resource that must be released exactly once.
type Lease interface {
	Path() string
	Release() error
}

// Controller owns one composer. It is not safe for concurrent use; call it
// from the UI loop and feed executor results back through Dispatch.
type Controller struct {
	opts      Options
	state     State
	previewer Previewer
	lease     Lease
}

// New returns a mounted controller. previewer may be nil.
func New(opts Options, previewer Previewer) *Controller {
	return &Controller{opts: opts, state: NewState(), previewer: previewer}
}

// State returns a snapshot of the composer state.
func (c *Controller) State() State { return c.state }

// Draft returns the current draft text.
func (c *Controller) Draft() string { return c.state.Draft }

// Thumbnails returns a copy of the derived images in display order.
func (c *Controller) Thumbnails() []string {
	return append([]string(nil), c.state.Thumbnails...)
}

// Selected returns the most recently selected file, or nil.
func (c *Controller) Selected() *attach.File { return c.state.Selected }

// Notice returns the pending transient notice.
func (c *Controller) Notice() Notice { return c.state.Notice }

// ClearNotice dismisses the pending notice.
func (c *Controller) ClearNotice() { c.state.Notice = Notice{} }

// Busy reports whether derivations are still in flight.
func (c *Controller) Busy() bool { return c.state.Pending() > 0 }

// PreviewPath returns the location of the current preview resource, if any.
func (c *Controller) PreviewPath() string {
	if c.lease == nil {
		return ""
	}
	return c.lease.Path()
}

// SetDisabled toggles submission.
func (c *Controller) SetDisabled(disabled bool) { c.opts.Disabled = disabled }

// SetDraft replaces the draft text.
func (c *Controller) SetDraft(text string) {
	c.apply(TextChanged{Text: text})
}

// SelectFile replaces the selection and returns the derivation effects to run.
// A nil file clears the selection.
func (c *Controller) SelectFile(f *attach.File) []Effect {
	if !c.state.mounted {
		return nil
	}
	c.releasePreview()
	if f != nil && c.previewer != nil {
		lease, err := c.previewer.Acquire(f)
		if err != nil {
			log.Printf("[composer] preview for %s unavailable: %v", f.Name, err)
		} else {
			c.lease = lease
		}
	}
	if f != nil && f.Kind() == attach.KindUnsupported {
		log.Printf("[composer] ignoring %s: unsupported type %q", f.Name, f.MediaType)
	}
	return c.apply(FileSelected{File: f})
}

// Dispatch applies an executor result and returns follow-up effects.
func (c *Controller) Dispatch(ev Event) []Effect {
	if failed, ok := ev.(DerivationFailed); ok && !c.state.stale(failed.Token) {
		log.Printf("[composer] derivation %s failed: %v", failed.Token, failed.Err)
	}
	return c.apply(ev)
}

// RemoveThumbnail deletes the thumbnail at index; out-of-range indexes are ignored.
func (c *Controller) RemoveThumbnail(index int) {
	c.apply(ThumbnailRemoved{Index: index})
}

// CanSubmit reports whether Submit would send anything.
func (c *Controller) CanSubmit() bool {
	if c.opts.Disabled {
		return false
	}
	return strings.TrimSpace(c.state.Draft) != "" || len(c.state.Thumbnails) > 0
}

// Payload serializes the current draft and thumbnails.
func (c *Controller) Payload() (string, error) {
	return message.New(c.state.Draft, c.state.Thumbnails).Encode()
}

// Submit sends the outgoing message. It reports false without error when
// there is nothing to send or submission is disabled. On a send error the
// state is left untouched so the user can retry.
func (c *Controller) Submit() (bool, error) {
	if !c.CanSubmit() {
		return false, nil
	}
	if c.opts.Send == nil {
		return false, ErrNoSender
	}
	payload, err := c.Payload()
	if err != nil {
		return false, err
	}
	if c.opts.ConversationID != "" {
		err = c.opts.Send(payload, c.opts.ConversationID)
	} else {
		err = c.opts.Send(payload)
	}
	if err != nil {
		c.state.Notice = Notice{Message: "send failed", Err: err}
		return false, fmt.Errorf("send message: %w", err)
	}
	c.apply(Submitted{})
	return true, nil
}

// OnKeyEnter handles the submit key. It returns true when the key's default
// effect (a newline) must be suppressed, which happens exactly when the key
// triggers a submit attempt.
func (c *Controller) OnKeyEnter(shiftHeld, composing bool) (bool, error) {
	if shiftHeld || composing {
		return false, nil
	}
	_, err := c.Submit()
	return true, err
}

// Unmount tears the composer down: the preview is released, pending
// derivations are abandoned and their documents must be closed by running the
// returned effects.
func (c *Controller) Unmount() []Effect {
	c.releasePreview()
	return c.apply(Unmounted{})
}

// Mount revives an unmounted controller. Completions from before the unmount
// stay ignored.
func (c *Controller) Mount() {
	c.apply(Mounted{})
}

func (c *Controller) apply(ev Event) []Effect {
	dropped := c.state.Dropped
	next, effects := Reduce(c.opts, c.state, ev)
	c.state = next
	if next.Dropped > dropped {
		log.Printf("[composer] pending image overwritten before flush (%d dropped)", next.Dropped)
	}
	return effects
}

func (c *Controller) releasePreview() {
	if c.lease == nil {
		return
	}
	if err := c.lease.Release(); err != nil {
		log.Printf("[composer] release preview: %v", err)
	}
	c.lease = nil
}
