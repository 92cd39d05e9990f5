// Package session drives one editing session: it owns the active document,
// debounces edits into persist, analysis and compile actions, and routes
// analysis results back to the display.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/diagnostics"
	"github.com/corymhall/proofsync/extsync"
	"github.com/corymhall/proofsync/guard"
	"github.com/corymhall/proofsync/logger"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/schedule"
)

var (
	// ErrStale is returned for a response that arrived after the document
	// it was issued for stopped being active.
	ErrStale = errors.New("document is no longer active")
	// ErrNoDocument is returned when no document has been activated or the
	// analysis service has not acknowledged it yet.
	ErrNoDocument = errors.New("no active document")
)

type edit struct {
	docID   uuid.UUID
	index   int
	content string
}

type cursor struct {
	docID uuid.UUID
	pos   lsp.UIPosition
}

type Controller struct {
	analyzer Analyzer
	backend  Backend
	display  Display
	opts     Options
	ctx      context.Context

	markers      *diagnostics.Store
	group        *schedule.Group
	persist      *schedule.Debouncer[edit]
	notify       *schedule.Debouncer[edit]
	info         *schedule.Debouncer[cursor]
	compile      *schedule.Debouncer[edit]
	persistGuard guard.Persist
	compileGuard guard.Flag

	mu      sync.Mutex
	doc     *Document
	content string
	cursor  lsp.UIPosition
	loop    *extsync.Loop
	visible bool
	offline bool
}

// New returns a controller and subscribes it to the analyzer's
// notifications. ctx carries the logger and bounds background work.
func New(ctx context.Context, analyzer Analyzer, backend Backend, display Display, opts Options) *Controller {
	opts.setDefaults()
	ctx, _ = debug.WithGroup(ctx, "session")
	c := &Controller{
		analyzer: analyzer,
		backend:  backend,
		display:  display,
		opts:     opts,
		ctx:      ctx,
		markers:  diagnostics.NewStore(),
		group:    schedule.NewGroup(),
		visible:  true,
	}
	c.persist = schedule.NewDebouncer(opts.PersistWindow, c.runPersist)
	c.notify = schedule.NewDebouncer(opts.NotifyWindow, c.runNotify)
	c.info = schedule.NewDebouncer(opts.InfoWindow, c.runInfo)
	c.compile = schedule.NewDebouncer(opts.CompileWindow, c.runCompile)
	c.group.Add(schedule.KindPersist, c.persist)
	c.group.Add(schedule.KindNotify, c.notify)
	c.group.Add(schedule.KindInfo, c.info)
	c.group.Add(schedule.KindCompile, c.compile)

	analyzer.OnNotification(lsp.MethodPublishDiagnostics, c.onDiagnostics)
	analyzer.OnNotification(lsp.MethodLogMessage, c.onLogMessage)
	analyzer.OnNotification(lsp.MethodFileProgress, c.onFileProgress)
	analyzer.OnStatus(c.onStatus)
	return c
}

// onStatus forwards connectivity to the display. When the analysis service
// comes back after being offline it may have lost the document, so the
// active document is synced again.
func (c *Controller) onStatus(online bool) {
	c.display.SetOnline(online)

	c.mu.Lock()
	wasOffline := c.offline
	c.offline = !online
	doc, content := c.doc, c.content
	c.mu.Unlock()
	if !online || !wasOffline || doc == nil {
		return
	}
	go func() {
		if _, err := c.openAndSync(c.ctx, doc, content); err != nil && !errors.Is(err, ErrStale) {
			c.display.SetStatus(fmt.Sprintf("analysis sync failed: %v", err))
		}
	}()
}

// Document returns the active document, or nil.
func (c *Controller) Document() *Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

func (c *Controller) isActive(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc != nil && c.doc.ID == id
}

// Activate makes record index the active document. Everything pending for
// the previous document is cancelled and its late responses are dropped.
func (c *Controller) Activate(ctx context.Context, index int, content string) error {
	c.group.CancelAll()

	doc := newDocument(index)
	c.mu.Lock()
	prev := c.doc
	c.doc = doc
	c.content = content
	c.cursor = lsp.UIPosition{Line: 1, Column: 1}
	c.mu.Unlock()

	if prev != nil {
		c.markers.Clear(prev.URI)
	}
	c.display.SetMarkers("", nil)
	c.display.SetInfo("")

	ctx, done := debug.Start(ctx, "activate", slog.Int("index", index))
	defer done()
	uri, err := c.openAndSync(ctx, doc, content)
	if err != nil {
		c.display.SetStatus(fmt.Sprintf("analysis sync failed: %v", err))
		return err
	}
	debug.Info.Log(ctx, "document active", slog.Int("index", index), slog.String("uri", string(uri)))
	return nil
}

// openAndSync registers content with the analysis service and records it
// on doc if doc is still active.
func (c *Controller) openAndSync(ctx context.Context, doc *Document, content string) (lsp.DocumentURI, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	uri, err := c.backend.OpenAndSync(ctx, doc.Index, content)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil || c.doc.ID != doc.ID {
		return "", ErrStale
	}
	c.doc = c.doc.synced(uri, content)
	return uri, nil
}

// Edit records new buffer content and schedules persist, analysis and, if
// enabled, compile.
func (c *Controller) Edit(content string) error {
	c.mu.Lock()
	if c.doc == nil {
		c.mu.Unlock()
		return ErrNoDocument
	}
	c.content = content
	e := edit{docID: c.doc.ID, index: c.doc.Index, content: content}
	c.mu.Unlock()

	c.persistGuard.MarkDirty()
	c.persist.Trigger(e)
	c.notify.Trigger(e)
	if c.opts.AutoCompile {
		c.compile.Trigger(e)
	}
	return nil
}

// MoveCursor schedules an info panel refresh for pos.
func (c *Controller) MoveCursor(pos lsp.UIPosition) error {
	c.mu.Lock()
	if c.doc == nil {
		c.mu.Unlock()
		return ErrNoDocument
	}
	c.cursor = pos
	cur := cursor{docID: c.doc.ID, pos: pos}
	c.mu.Unlock()

	c.info.Trigger(cur)
	return nil
}

func (c *Controller) currentEdit() (edit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return edit{}, false
	}
	return edit{docID: c.doc.ID, index: c.doc.Index, content: c.content}, true
}

// SaveNow persists the current content immediately.
func (c *Controller) SaveNow(ctx context.Context) error {
	e, ok := c.currentEdit()
	if !ok {
		return ErrNoDocument
	}
	c.persist.Cancel()
	c.persistGuard.MarkDirty()
	return c.doPersist(ctx, e)
}

// CompileNow compiles the current content immediately. It does nothing if
// a compile is already running.
func (c *Controller) CompileNow(ctx context.Context) error {
	e, ok := c.currentEdit()
	if !ok {
		return ErrNoDocument
	}
	c.compile.Cancel()
	return c.doCompile(ctx, e)
}

func (c *Controller) runPersist(e edit) {
	_ = c.doPersist(c.ctx, e)
}

func (c *Controller) doPersist(ctx context.Context, e edit) error {
	if !c.isActive(e.docID) {
		return ErrStale
	}
	done, ok := c.persistGuard.Begin()
	if !ok {
		// the running persist re-arms when it finishes
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	err := c.backend.Update(rctx, e.index, e.content)
	cancel()
	if err != nil {
		debug.LogError(ctx, "persist failed", err)
		c.display.SetStatus(fmt.Sprintf("save failed: %v", err))
	} else {
		c.display.SetStatus(fmt.Sprintf("saved record %d", e.index))
	}

	if done() {
		if next, ok := c.currentEdit(); ok && next.docID == e.docID {
			c.persist.Trigger(next)
		}
	}
	return err
}

func (c *Controller) runNotify(e edit) {
	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()
	if doc == nil || doc.ID != e.docID || doc.LastSent == e.content {
		return
	}
	if _, err := c.openAndSync(c.ctx, doc, e.content); err != nil && !errors.Is(err, ErrStale) {
		debug.LogError(c.ctx, "analysis sync failed", err)
		c.display.SetStatus(fmt.Sprintf("analysis sync failed: %v", err))
	}
}

func (c *Controller) runInfo(cur cursor) {
	if !c.isActive(cur.docID) {
		return
	}
	goal, err := c.Goal(c.ctx, cur.pos)
	if errors.Is(err, ErrStale) {
		return
	}
	if err != nil {
		debug.Debug.Log(c.ctx, "goal request failed", slog.Any("error", err))
	}
	term, err := c.TermGoal(c.ctx, cur.pos)
	if errors.Is(err, ErrStale) {
		return
	}
	if err != nil {
		debug.Debug.Log(c.ctx, "term goal request failed", slog.Any("error", err))
	}
	if !c.isActive(cur.docID) {
		return
	}
	c.display.SetInfo(RenderInfo(goal, term))
}

// RenderInfo formats goal state for the info panel.
func RenderInfo(goal *lsp.PlainGoal, term *lsp.PlainTermGoal) string {
	var sections []string
	switch {
	case goal == nil:
	case len(goal.Goals) > 0:
		sections = append(sections, strings.Join(goal.Goals, "\n\n"))
	case goal.Rendered != "":
		sections = append(sections, goal.Rendered)
	default:
		sections = append(sections, "No goals")
	}
	if term != nil && term.Goal != "" {
		sections = append(sections, "Expected type:\n"+term.Goal)
	}
	return strings.Join(sections, "\n\n")
}

func (c *Controller) runCompile(e edit) {
	_ = c.doCompile(c.ctx, e)
}

func (c *Controller) doCompile(ctx context.Context, e edit) error {
	if !c.isActive(e.docID) {
		return ErrStale
	}
	release, ok := c.compileGuard.TryAcquire()
	if !ok {
		debug.Debug.Log(ctx, "compile already running, dropping request")
		return nil
	}
	defer release()

	c.display.SetStatus("compiling")
	rctx, cancel := context.WithTimeout(ctx, c.opts.CompileTimeout)
	res, err := c.backend.Compile(rctx, e.index, e.content)
	cancel()
	if err != nil {
		debug.LogError(ctx, "compile failed", err)
		c.display.SetStatus(fmt.Sprintf("compile failed: %v", err))
		return err
	}

	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()
	if doc == nil || doc.ID != e.docID {
		c.display.SetStatus("compile result discarded: document changed")
		return ErrStale
	}
	markers := diagnostics.FromText(res.Output())
	c.markers.Replace(doc.URI, markers)
	c.display.SetMarkers(doc.URI, markers)
	c.display.SetStatus(compileStatus(res.Success, res.ReturnCode, markers))
	return nil
}

func compileStatus(success bool, code int, markers []diagnostics.Marker) string {
	errs := 0
	for _, m := range markers {
		if m.Severity == diagnostics.SeverityError {
			errs++
		}
	}
	switch {
	case success && len(markers) == 0:
		return "compiled successfully"
	case success:
		return fmt.Sprintf("compiled with %d messages", len(markers))
	case errs > 0:
		return fmt.Sprintf("compile failed: %d errors", errs)
	default:
		return fmt.Sprintf("compile failed (exit code %d)", code)
	}
}

// request sends method at pos for the active document and fails with
// ErrStale if the document changed before the response arrived.
func (c *Controller) request(ctx context.Context, method string, pos lsp.UIPosition) (json.RawMessage, error) {
	doc := c.Document()
	if doc == nil || doc.URI == "" {
		return nil, ErrNoDocument
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	raw, err := c.analyzer.Send(ctx, method, lsp.NewPositionParams(doc.URI, pos))
	if !c.isActive(doc.ID) {
		return nil, ErrStale
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return raw, nil
}

// decodeResult decodes raw into a new T. Absent or malformed results are
// reported as no data.
func decodeResult[T any](ctx context.Context, method string, raw json.RawMessage) *T {
	if lsp.IsNull(raw) {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		debug.Debug.Log(ctx, "ignoring malformed result", slog.String("method", method), slog.Any("error", err))
		return nil
	}
	return v
}

// Hover returns the hover text at pos; empty when there is none.
func (c *Controller) Hover(ctx context.Context, pos lsp.UIPosition) (string, error) {
	raw, err := c.request(ctx, lsp.MethodHover, pos)
	if err != nil {
		return "", err
	}
	hover := decodeResult[lsp.Hover](ctx, lsp.MethodHover, raw)
	if hover == nil {
		return "", nil
	}
	return hover.Contents.String(), nil
}

// Goal returns the tactic state at pos, or nil if there is none.
func (c *Controller) Goal(ctx context.Context, pos lsp.UIPosition) (*lsp.PlainGoal, error) {
	raw, err := c.request(ctx, lsp.MethodPlainGoal, pos)
	if err != nil {
		return nil, err
	}
	return decodeResult[lsp.PlainGoal](ctx, lsp.MethodPlainGoal, raw), nil
}

// TermGoal returns the expected type at pos, or nil if there is none.
func (c *Controller) TermGoal(ctx context.Context, pos lsp.UIPosition) (*lsp.PlainTermGoal, error) {
	raw, err := c.request(ctx, lsp.MethodPlainTermGoal, pos)
	if err != nil {
		return nil, err
	}
	return decodeResult[lsp.PlainTermGoal](ctx, lsp.MethodPlainTermGoal, raw), nil
}

// Definition returns the definition sites of the symbol at pos.
func (c *Controller) Definition(ctx context.Context, pos lsp.UIPosition) ([]lsp.Location, error) {
	raw, err := c.request(ctx, lsp.MethodDefinition, pos)
	if err != nil {
		return nil, err
	}
	locs, err := lsp.DecodeLocations(raw)
	if err != nil {
		debug.Debug.Log(ctx, "ignoring malformed definition result", slog.Any("error", err))
		return nil, nil
	}
	return locs, nil
}

// MarkersAt returns the markers of the active document under pos.
func (c *Controller) MarkersAt(pos lsp.UIPosition) []diagnostics.Marker {
	doc := c.Document()
	if doc == nil {
		return nil
	}
	return c.markers.At(doc.URI, pos)
}

// Markers returns every marker of the active document.
func (c *Controller) Markers() []diagnostics.Marker {
	doc := c.Document()
	if doc == nil {
		return nil
	}
	return c.markers.Markers(doc.URI)
}

func (c *Controller) onDiagnostics(ctx context.Context, _ string, params json.RawMessage) {
	var p lsp.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		debug.Debug.Log(ctx, "ignoring malformed diagnostics", slog.Any("error", err))
		return
	}
	doc := c.Document()
	if doc == nil || doc.URI == "" || p.URI != doc.URI {
		return
	}
	markers := diagnostics.FromProtocol(p.Diagnostics)
	c.markers.Replace(p.URI, markers)
	c.display.SetMarkers(p.URI, markers)
}

func (c *Controller) onLogMessage(ctx context.Context, _ string, params json.RawMessage) {
	var p lsp.LogMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	logger.LogMessage(ctx, &p)
}

func (c *Controller) onFileProgress(ctx context.Context, _ string, params json.RawMessage) {
	var p lsp.LeanFileProgressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	doc := c.Document()
	if doc == nil || p.TextDocument.URI != doc.URI {
		return
	}
	debug.Trace.Log(ctx, "file progress", slog.Int("processing", len(p.Processing)))
}

// ActiveIndex, Content and Replace let the external sync loop drive the
// buffer.
func (c *Controller) ActiveIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return 0
	}
	return c.doc.Index
}

func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

func (c *Controller) Replace(content string) {
	c.display.SetContent(content)
	if err := c.Edit(content); err != nil {
		debug.Debug.Log(c.ctx, "external edit without active document", slog.Any("error", err))
	}
}

// OpenExternal hands the active document to an external editor and starts
// syncing its edits back.
func (c *Controller) OpenExternal(ctx context.Context) error {
	e, ok := c.currentEdit()
	if !ok {
		return ErrNoDocument
	}
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	err := c.backend.PrepareExternalEdit(rctx, e.index, e.content, c.opts.OpenEditor)
	cancel()
	if err != nil {
		c.display.SetStatus(fmt.Sprintf("external edit failed: %v", err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loop == nil {
		c.loop = extsync.New(c.backend, c, c.opts.PollInterval)
		c.loop.SetVisible(c.visible)
	}
	return c.loop.Start(c.ctx)
}

// SetVisible suspends external sync while the editor is hidden.
func (c *Controller) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = visible
	if c.loop != nil {
		c.loop.SetVisible(visible)
	}
}

// DisableSync stops external sync.
func (c *Controller) DisableSync() {
	c.mu.Lock()
	loop := c.loop
	c.loop = nil
	c.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

// SyncMode reports the external sync loop's mode.
func (c *Controller) SyncMode() extsync.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loop == nil {
		return extsync.ModeIdle
	}
	return c.loop.Mode()
}

// Close cancels pending actions and stops external sync.
func (c *Controller) Close() {
	c.group.CancelAll()
	c.DisableSync()
}
