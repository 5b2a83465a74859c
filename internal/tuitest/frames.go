package tuitest

import (
	"regexp"
	"strings"
)

// Frame is one screen the program drew, split at erase-display sequences.
// Plain has escape sequences removed and trailing blanks trimmed.
type Frame struct {
	Index int
	ANSI  string
	Plain string
}

var (
	eraseDisplay = regexp.MustCompile(`\x1b\[[0-9;]*J`)
	csiSequence  = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	oscSequence  = regexp.MustCompile(`\x1b\][^\x07]*(\x07|\x1b\\)`)
	shiftChars   = strings.NewReplacer("\x0e", "", "\x0f", "")
)

func parseFrames(raw []byte) []Frame {
	stream := strings.ReplaceAll(string(raw), "\r", "")
	var frames []Frame
	for _, chunk := range eraseDisplay.Split(stream, -1) {
		chunk = strings.TrimPrefix(strings.Trim(chunk, "\x00"), "\x1b[H")
		plain := plainText(chunk)
		if plain == "" {
			continue
		}
		frames = append(frames, Frame{Index: len(frames), ANSI: chunk, Plain: plain})
	}
	// Inline renderers never erase the display; keep the whole stream.
	if len(frames) == 0 && stream != "" {
		frames = []Frame{{ANSI: stream, Plain: plainText(stream)}}
	}
	return frames
}

// FinalFrame returns the last captured frame, or false when nothing was drawn.
func (r *Recording) FinalFrame() (Frame, bool) {
	if r == nil || len(r.Frames) == 0 {
		return Frame{}, false
	}
	return r.Frames[len(r.Frames)-1], true
}

// LastContaining returns the most recent frame whose plain text contains
// substr. Programs blank the screen on exit, so the final frame is rarely the
// interesting one.
func (r *Recording) LastContaining(substr string) (Frame, bool) {
	if r == nil {
		return Frame{}, false
	}
	for i := len(r.Frames) - 1; i >= 0; i-- {
		if strings.Contains(r.Frames[i].Plain, substr) {
			return r.Frames[i], true
		}
	}
	return Frame{}, false
}

func plainText(s string) string {
	s = oscSequence.ReplaceAllString(s, "")
	s = csiSequence.ReplaceAllString(s, "")
	s = shiftChars.Replace(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n \t")
}
