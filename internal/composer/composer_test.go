package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/csheth/quill/internal/attach"
)

type sendCall struct {
	payload string
	args    []string
}

type recorder struct {
	calls []sendCall
	err   error
}

func (r *recorder) send(payload string, conversationID ...string) error {
	r.calls = append(r.calls, sendCall{payload: payload, args: conversationID})
	return r.err
}

type fakeDoc struct {
	pages  int
	failAt int
	closed int
}

func (d *fakeDoc) NumPages() int { return d.pages }

func (d *fakeDoc) RenderPage(_ context.Context, n int, _ float64) (string, error) {
	if n == d.failAt {
		return "", fmt.Errorf("page %d: boom", n)
	}
	return fmt.Sprintf("data:page/%d", n), nil
}

func (d *fakeDoc) Close() error {
	d.closed++
	return nil
}

type fakeStore struct {
	docs map[string]*fakeDoc
}

func newFakeExecutor(store *fakeStore) *Executor {
	return &Executor{
		ReadImage: func(_ context.Context, f *attach.File, _ int64) (string, error) {
			if strings.HasPrefix(f.Name, "bad") {
				return "", errors.New("unreadable")
			}
			return "data:" + f.Name, nil
		},
		OpenDocument: func(_ context.Context, f *attach.File, _ int64) (Document, error) {
			doc, ok := store.docs[f.Name]
			if !ok {
				return nil, errors.New("corrupt document")
			}
			return doc, nil
		},
	}
}

func image(name string) *attach.File {
	return attach.FromBytes(name, "image/png", []byte("png"))
}

func pdfFile(name string) *attach.File {
	return attach.FromBytes(name, attach.DocumentMediaType, []byte("%PDF-1.4"))
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSubmitHelloWithOneImage(t *testing.T) {
	rec := &recorder{}
	c := New(Options{ClearOnSend: true, Send: rec.send}, nil)
	ex := &Executor{ReadImage: func(context.Context, *attach.File, int64) (string, error) {
		return "data:image/png;base64,AAA", nil
	}}

	c.SetDraft("hello")
	Drain(context.Background(), c, ex, c.SelectFile(image("cat.png")))

	sent, err := c.Submit()
	if err != nil || !sent {
		t.Fatalf("Submit() = %v, %v", sent, err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected one send, got %d", len(rec.calls))
	}
	want := `{"content":[{"type":"text","text":"hello"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA"}}]}`
	if rec.calls[0].payload != want {
		t.Fatalf("payload mismatch\nwant %s\n got %s", want, rec.calls[0].payload)
	}
	if len(rec.calls[0].args) != 0 {
		t.Fatalf("expected no conversation argument, got %v", rec.calls[0].args)
	}
	if c.Draft() != "" || len(c.Thumbnails()) != 0 {
		t.Fatalf("expected reset state, got draft=%q thumbs=%v", c.Draft(), c.Thumbnails())
	}
}

func TestSubmitWhileDisabledDoesNothing(t *testing.T) {
	rec := &recorder{}
	c := New(Options{Disabled: true, ClearOnSend: true, Send: rec.send}, nil)
	c.SetDraft("question")
	before := c.State()

	sent, err := c.Submit()
	if err != nil || sent {
		t.Fatalf("Submit() = %v, %v", sent, err)
	}
	if len(rec.calls) != 0 {
		t.Fatal("send callback must not run while disabled")
	}
	if c.Draft() != before.Draft || len(c.Thumbnails()) != len(before.Thumbnails) {
		t.Fatal("state changed on disabled submit")
	}
}

func TestSubmitWithNothingToSendIsNoop(t *testing.T) {
	rec := &recorder{}
	c := New(Options{ClearOnSend: true, Send: rec.send}, nil)
	c.SetDraft("  \n\t ")

	sent, err := c.Submit()
	if err != nil || sent {
		t.Fatalf("Submit() = %v, %v", sent, err)
	}
	if len(rec.calls) != 0 {
		t.Fatal("blank submit must not send")
	}
	if c.Draft() != "  \n\t " {
		t.Fatalf("draft changed to %q", c.Draft())
	}
}

func TestSubmitImagesOnlyWithConversation(t *testing.T) {
	rec := &recorder{}
	c := New(Options{ConversationID: "conv-1", Send: rec.send}, nil)
	ex := newFakeExecutor(&fakeStore{})
	Drain(context.Background(), c, ex, c.SelectFile(image("a.png")))

	if _, err := c.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected one send, got %d", len(rec.calls))
	}
	call := rec.calls[0]
	if len(call.args) != 1 || call.args[0] != "conv-1" {
		t.Fatalf("expected conversation id, got %v", call.args)
	}
	want := `{"content":[{"type":"text","text":""},{"type":"image_url","image_url":{"url":"data:a.png"}}]}`
	if call.payload != want {
		t.Fatalf("payload mismatch\nwant %s\n got %s", want, call.payload)
	}
}

func TestSubmitKeepsDraftWithoutClearOnSend(t *testing.T) {
	rec := &recorder{}
	c := New(Options{Send: rec.send}, nil)
	ex := newFakeExecutor(&fakeStore{})
	c.SetDraft("keep me")
	Drain(context.Background(), c, ex, c.SelectFile(image("a.png")))

	if _, err := c.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if c.Draft() != "keep me" {
		t.Fatalf("draft = %q, want it kept", c.Draft())
	}
	if len(c.Thumbnails()) != 0 {
		t.Fatalf("thumbnails not cleared: %v", c.Thumbnails())
	}
}

func TestSubmitClearsPendingSlot(t *testing.T) {
	rec := &recorder{}
	c := New(Options{Slot: SlotSingle, Send: rec.send}, nil)
	ex := newFakeExecutor(&fakeStore{})
	c.SetDraft("hi")
	effects := c.SelectFile(image("a.png"))
	// the read lands in the slot but the flush has not run yet
	pending := c.Dispatch(ex.Run(context.Background(), effects[0]))
	if c.State().Slot == "" {
		t.Fatal("expected image waiting in the slot")
	}
	if _, err := c.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if c.State().Slot != "" {
		t.Fatal("slot must be cleared by submit")
	}
	Drain(context.Background(), c, ex, pending)
	if len(c.Thumbnails()) != 0 {
		t.Fatalf("flushed a cleared slot: %v", c.Thumbnails())
	}
}

func TestSubmitSendFailureKeepsState(t *testing.T) {
	rec := &recorder{err: errors.New("offline")}
	c := New(Options{ClearOnSend: true, Send: rec.send}, nil)
	c.SetDraft("retry me")

	sent, err := c.Submit()
	if err == nil || sent {
		t.Fatalf("expected send error, got %v, %v", sent, err)
	}
	if c.Draft() != "retry me" {
		t.Fatalf("draft lost after failed send: %q", c.Draft())
	}
	if c.Notice().IsZero() {
		t.Fatal("expected a notice after failed send")
	}
}

func TestSubmitWithoutSender(t *testing.T) {
	c := New(Options{}, nil)
	c.SetDraft("hi")
	if _, err := c.Submit(); !errors.Is(err, ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}

func TestOnKeyEnter(t *testing.T) {
	cases := []struct {
		name      string
		shift     bool
		composing bool
		draft     string
		suppress  bool
		sends     int
	}{
		{name: "plain enter submits", draft: "hi", suppress: true, sends: 1},
		{name: "shift inserts newline", shift: true, draft: "hi"},
		{name: "ime composition passes through", composing: true, draft: "hi"},
		{name: "empty draft still suppresses", suppress: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			c := New(Options{Send: rec.send}, nil)
			c.SetDraft(tc.draft)
			suppress, err := c.OnKeyEnter(tc.shift, tc.composing)
			if err != nil {
				t.Fatalf("OnKeyEnter() error = %v", err)
			}
			if suppress != tc.suppress {
				t.Fatalf("suppress = %v, want %v", suppress, tc.suppress)
			}
			if len(rec.calls) != tc.sends {
				t.Fatalf("sends = %d, want %d", len(rec.calls), tc.sends)
			}
		})
	}
}

func TestRemoveThumbnailPreservesOrder(t *testing.T) {
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{})
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		Drain(context.Background(), c, ex, c.SelectFile(image(name)))
	}

	c.RemoveThumbnail(1)
	c.RemoveThumbnail(2)
	c.RemoveThumbnail(0)
	want := []string{"data:c.png", "data:e.png"}
	if got := c.Thumbnails(); !equalStrings(got, want) {
		t.Fatalf("Thumbnails() = %v, want %v", got, want)
	}
}

func TestRemoveThumbnailOutOfRange(t *testing.T) {
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{})
	Drain(context.Background(), c, ex, c.SelectFile(image("a.png")))

	for _, idx := range []int{-1, 1, 42} {
		c.RemoveThumbnail(idx)
	}
	if got := c.Thumbnails(); !equalStrings(got, []string{"data:a.png"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
}

func TestSelectImageAddsOneThumbnail(t *testing.T) {
	c := New(Options{}, nil)
	ex := NewExecutor()
	data := []byte("\x89PNG\r\n\x1a\nnot-really")
	Drain(context.Background(), c, ex, c.SelectFile(attach.FromBytes("pic.png", "", data)))

	thumbs := c.Thumbnails()
	if len(thumbs) != 1 {
		t.Fatalf("expected one thumbnail, got %d", len(thumbs))
	}
	if want := attach.DataURL("image/png", data); thumbs[0] != want {
		t.Fatalf("thumbnail = %q, want %q", thumbs[0], want)
	}
}

func TestSelectDocumentAppendsPagesIncrementally(t *testing.T) {
	doc := &fakeDoc{pages: 3}
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{docs: map[string]*fakeDoc{"paper.pdf": doc}})
	ctx := context.Background()

	effects := c.SelectFile(pdfFile("paper.pdf"))
	if len(effects) != 1 {
		t.Fatalf("expected one effect, got %d", len(effects))
	}
	open, ok := effects[0].(OpenDocument)
	if !ok {
		t.Fatalf("expected OpenDocument, got %T", effects[0])
	}
	effects = c.Dispatch(ex.Run(ctx, open))
	raster, ok := effects[0].(RasterizePage)
	if !ok || raster.Page != 1 || raster.Scale != 3 {
		t.Fatalf("unexpected first raster effect %+v", effects[0])
	}
	if len(c.Thumbnails()) != 0 {
		t.Fatal("no thumbnail may appear before a page is rendered")
	}
	effects = c.Dispatch(ex.Run(ctx, raster))
	if got := c.Thumbnails(); !equalStrings(got, []string{"data:page/1"}) {
		t.Fatalf("after first page Thumbnails() = %v", got)
	}
	Drain(ctx, c, ex, effects)

	want := []string{"data:page/1", "data:page/2", "data:page/3"}
	if got := c.Thumbnails(); !equalStrings(got, want) {
		t.Fatalf("Thumbnails() = %v, want %v", got, want)
	}
	if doc.closed != 1 {
		t.Fatalf("document closed %d times, want 1", doc.closed)
	}
	if ex.Open() != 0 {
		t.Fatalf("executor still holds %d documents", ex.Open())
	}
}

func TestIgnoresOutOfOrderPage(t *testing.T) {
	doc := &fakeDoc{pages: 2}
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{docs: map[string]*fakeDoc{"paper.pdf": doc}})
	ctx := context.Background()

	effects := c.SelectFile(pdfFile("paper.pdf"))
	effects = c.Dispatch(ex.Run(ctx, effects[0]))
	tok := effects[0].(RasterizePage).Token
	c.Dispatch(PageRasterized{Token: tok, Page: 2, DataURL: "data:early"})
	if len(c.Thumbnails()) != 0 {
		t.Fatalf("page 2 appended before page 1: %v", c.Thumbnails())
	}
	Drain(ctx, c, ex, effects)
	if got := c.Thumbnails(); !equalStrings(got, []string{"data:page/1", "data:page/2"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
}

func TestSelectionsKeepCallOrder(t *testing.T) {
	store := &fakeStore{docs: map[string]*fakeDoc{"paper.pdf": {pages: 2}}}
	c := New(Options{}, nil)
	ex := newFakeExecutor(store)

	var effects []Effect
	effects = append(effects, c.SelectFile(pdfFile("paper.pdf"))...)
	effects = append(effects, c.SelectFile(image("late.png"))...)
	if len(effects) != 1 {
		t.Fatalf("second derivation must wait for the first, got %d effects", len(effects))
	}
	Drain(context.Background(), c, ex, effects)

	want := []string{"data:page/1", "data:page/2", "data:late.png"}
	if got := c.Thumbnails(); !equalStrings(got, want) {
		t.Fatalf("Thumbnails() = %v, want %v", got, want)
	}
	if c.Selected().Name != "late.png" {
		t.Fatalf("Selected() = %s", c.Selected().Name)
	}
}

func TestDirectModeKeepsBackToBackImages(t *testing.T) {
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{})
	var effects []Effect
	effects = append(effects, c.SelectFile(image("a.png"))...)
	effects = append(effects, c.SelectFile(image("b.png"))...)
	Drain(context.Background(), c, ex, effects)

	if got := c.Thumbnails(); !equalStrings(got, []string{"data:a.png", "data:b.png"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
	if c.State().Dropped != 0 {
		t.Fatalf("Dropped = %d", c.State().Dropped)
	}
}

func TestSingleSlotDropsOverwrittenImage(t *testing.T) {
	c := New(Options{Slot: SlotSingle}, nil)
	ex := newFakeExecutor(&fakeStore{})
	var effects []Effect
	effects = append(effects, c.SelectFile(image("a.png"))...)
	effects = append(effects, c.SelectFile(image("b.png"))...)
	if len(effects) != 2 {
		t.Fatalf("single-slot mode starts both reads at once, got %d effects", len(effects))
	}
	Drain(context.Background(), c, ex, effects)

	if got := c.Thumbnails(); !equalStrings(got, []string{"data:b.png"}) {
		t.Fatalf("Thumbnails() = %v, want only the second image", got)
	}
	if c.State().Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", c.State().Dropped)
	}
}

func TestSingleSlotFlushedBeforeNextSelection(t *testing.T) {
	c := New(Options{Slot: SlotSingle}, nil)
	ex := newFakeExecutor(&fakeStore{})
	Drain(context.Background(), c, ex, c.SelectFile(image("a.png")))
	Drain(context.Background(), c, ex, c.SelectFile(image("b.png")))

	if got := c.Thumbnails(); !equalStrings(got, []string{"data:a.png", "data:b.png"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
}

func TestUnmountIgnoresLateImage(t *testing.T) {
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{})
	effects := c.SelectFile(image("a.png"))
	c.Unmount()

	ev := ex.Run(context.Background(), effects[0])
	if follow := c.Dispatch(ev); len(follow) != 0 {
		t.Fatalf("unexpected follow-up effects %v", follow)
	}
	if len(c.Thumbnails()) != 0 {
		t.Fatalf("late completion mutated state: %v", c.Thumbnails())
	}
	if effects := c.SelectFile(image("b.png")); effects != nil {
		t.Fatal("unmounted composer must not start derivations")
	}
}

func TestUnmountClosesDocumentInFlight(t *testing.T) {
	doc := &fakeDoc{pages: 4}
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{docs: map[string]*fakeDoc{"paper.pdf": doc}})
	ctx := context.Background()

	effects := c.SelectFile(pdfFile("paper.pdf"))
	effects = c.Dispatch(ex.Run(ctx, effects[0]))
	pending := effects[0]

	closing := c.Unmount()
	Drain(ctx, c, ex, closing)
	if doc.closed != 1 || ex.Open() != 0 {
		t.Fatalf("document not released on unmount: closed=%d open=%d", doc.closed, ex.Open())
	}

	// a render that was already running finishes after teardown
	late := ex.Run(ctx, pending)
	if _, ok := late.(DerivationFailed); !ok {
		t.Fatalf("expected failure for closed document, got %T", late)
	}
	Drain(ctx, c, ex, c.Dispatch(late))
	Drain(ctx, c, ex, c.Dispatch(PageRasterized{Token: TokenOf(pending), Page: 1, DataURL: "data:x"}))
	if len(c.Thumbnails()) != 0 {
		t.Fatalf("late page mutated state: %v", c.Thumbnails())
	}
	if doc.closed != 1 {
		t.Fatalf("closed %d times", doc.closed)
	}
}

func TestRemountIgnoresEarlierEpoch(t *testing.T) {
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{})
	effects := c.SelectFile(image("old.png"))
	c.Unmount()
	c.Mount()

	Drain(context.Background(), c, ex, effects)
	if len(c.Thumbnails()) != 0 {
		t.Fatalf("completion from a previous mount applied: %v", c.Thumbnails())
	}
	Drain(context.Background(), c, ex, c.SelectFile(image("new.png")))
	if got := c.Thumbnails(); !equalStrings(got, []string{"data:new.png"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
}

func TestErrorSurfaceKeepsEarlierPages(t *testing.T) {
	doc := &fakeDoc{pages: 3, failAt: 2}
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{docs: map[string]*fakeDoc{"paper.pdf": doc}})
	Drain(context.Background(), c, ex, c.SelectFile(pdfFile("paper.pdf")))

	if got := c.Thumbnails(); !equalStrings(got, []string{"data:page/1"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
	notice := c.Notice()
	if notice.IsZero() || !strings.Contains(notice.Message, "paper.pdf") {
		t.Fatalf("expected notice naming the file, got %+v", notice)
	}
	if doc.closed != 1 {
		t.Fatalf("failed document closed %d times", doc.closed)
	}
	c.ClearNotice()
	if !c.Notice().IsZero() {
		t.Fatal("ClearNotice() left a notice")
	}
}

func TestErrorDropLeavesNoTrace(t *testing.T) {
	c := New(Options{Errors: ErrorDrop}, nil)
	ex := newFakeExecutor(&fakeStore{})
	Drain(context.Background(), c, ex, c.SelectFile(image("a.png")))
	Drain(context.Background(), c, ex, c.SelectFile(image("bad.png")))

	if got := c.Thumbnails(); !equalStrings(got, []string{"data:a.png"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
	if !c.Notice().IsZero() {
		t.Fatalf("unexpected notice %+v", c.Notice())
	}
}

func TestQueueContinuesAfterFailure(t *testing.T) {
	c := New(Options{}, nil)
	ex := newFakeExecutor(&fakeStore{})
	var effects []Effect
	effects = append(effects, c.SelectFile(pdfFile("missing.pdf"))...)
	effects = append(effects, c.SelectFile(image("b.png"))...)
	Drain(context.Background(), c, ex, effects)

	if got := c.Thumbnails(); !equalStrings(got, []string{"data:b.png"}) {
		t.Fatalf("Thumbnails() = %v", got)
	}
	if c.Busy() {
		t.Fatal("composer still busy after drain")
	}
}

func TestUnsupportedPolicies(t *testing.T) {
	text := attach.FromBytes("notes.txt", "", []byte("plain text"))

	c := New(Options{}, nil)
	if effects := c.SelectFile(text); len(effects) != 0 {
		t.Fatalf("unsupported file started %d effects", len(effects))
	}
	if c.Selected() != text {
		t.Fatal("unsupported file should still become the selection")
	}
	if !c.Notice().IsZero() {
		t.Fatal("ignore policy must not set a notice")
	}

	c = New(Options{Unsupported: UnsupportedNotify}, nil)
	c.SelectFile(text)
	if !strings.Contains(c.Notice().Message, "text/plain") {
		t.Fatalf("notice = %+v", c.Notice())
	}
}

func TestSelectNilClearsSelection(t *testing.T) {
	prev := &fakePreviewer{}
	c := New(Options{}, prev)
	ex := newFakeExecutor(&fakeStore{})
	Drain(context.Background(), c, ex, c.SelectFile(image("a.png")))

	if effects := c.SelectFile(nil); effects != nil {
		t.Fatalf("clearing started effects %v", effects)
	}
	if c.Selected() != nil {
		t.Fatal("selection not cleared")
	}
	if got := c.Thumbnails(); !equalStrings(got, []string{"data:a.png"}) {
		t.Fatalf("clearing the selection touched thumbnails: %v", got)
	}
	if prev.live() != 0 {
		t.Fatalf("%d previews still held", prev.live())
	}
}

type fakeLease struct {
	path     string
	released int
}

func (l *fakeLease) Path() string { return l.path }

func (l *fakeLease) Release() error {
	l.released++
	return nil
}

type fakePreviewer struct {
	leases []*fakeLease
}

func (p *fakePreviewer) Acquire(f *attach.File) (Lease, error) {
	l := &fakeLease{path: "/tmp/" + f.Name}
	p.leases = append(p.leases, l)
	return l, nil
}

func (p *fakePreviewer) live() int {
	n := 0
	for _, l := range p.leases {
		if l.released == 0 {
			n++
		}
	}
	return n
}

func TestPreviewReleasedOnReplaceAndUnmount(t *testing.T) {
	prev := &fakePreviewer{}
	c := New(Options{}, prev)

	c.SelectFile(image("a.png"))
	if c.PreviewPath() != "/tmp/a.png" {
		t.Fatalf("PreviewPath() = %q", c.PreviewPath())
	}
	c.SelectFile(pdfFile("missing.pdf"))
	if prev.leases[0].released != 1 {
		t.Fatal("previous preview not released on replace")
	}
	c.Unmount()
	for i, l := range prev.leases {
		if l.released != 1 {
			t.Fatalf("lease %d released %d times", i, l.released)
		}
	}
	if c.PreviewPath() != "" {
		t.Fatal("preview path survives unmount")
	}
}
