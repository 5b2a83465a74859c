package tuitest

import (
	"bytes"
	"io"
)

// terminalQuery pairs a capability probe with the canned reply a real
// terminal would give.
type terminalQuery struct {
	probe string
	reply string
}

// Cursor position, foreground and background colour probes, in both BEL and
// ST terminated forms. bubbletea and lipgloss block on these at startup.
var terminalQueries = []terminalQuery{
	{"\x1b[6n", "\x1b[1;1R"},
	{"\x1b]10;?\x07", "\x1b]10;rgb:cccc/cccc/cccc\x07"},
	{"\x1b]10;?\x1b\\", "\x1b]10;rgb:cccc/cccc/cccc\x1b\\"},
	{"\x1b]11;?\x07", "\x1b]11;rgb:0000/0000/0000\x07"},
	{"\x1b]11;?\x1b\\", "\x1b]11;rgb:0000/0000/0000\x1b\\"},
}

const (
	pendingLimit = 256
	pendingKeep  = 64
)

// terminalResponder watches program output and answers probes on the PTY.
type terminalResponder struct {
	w       io.Writer
	pending []byte
}

func newTerminalResponder(w io.Writer) *terminalResponder {
	return &terminalResponder{w: w, pending: make([]byte, 0, pendingLimit)}
}

// Process scans chunk for probes. A short tail is kept between calls so a
// probe split across two reads is still answered.
func (tr *terminalResponder) Process(chunk []byte) {
	tr.pending = append(tr.pending, chunk...)
	for tr.answerEarliest() {
	}
	if len(tr.pending) > pendingLimit {
		tr.pending = append(tr.pending[:0], tr.pending[len(tr.pending)-pendingKeep:]...)
	}
}

// answerEarliest replies to the first probe in the pending bytes, keeping
// replies in the order the program asked.
func (tr *terminalResponder) answerEarliest() bool {
	at, match := -1, -1
	for i, q := range terminalQueries {
		idx := bytes.Index(tr.pending, []byte(q.probe))
		if idx >= 0 && (at < 0 || idx < at) {
			at, match = idx, i
		}
	}
	if match < 0 {
		return false
	}
	q := terminalQueries[match]
	tr.pending = tr.pending[at+len(q.probe):]
	_, _ = io.WriteString(tr.w, q.reply)
	return true
}
