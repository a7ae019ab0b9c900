// Package clipboard bridges the local system clipboard with the relay
// session: a local Ctrl+C is captured and forwarded to the remote viewer,
// and ClipboardEvent messages received from the viewer are written back to
// the local clipboard. It is the Go counterpart of RemoteClipboard, with
// the original's Qt signal (ctrlCPressed) replaced by a buffered channel
// and the global keyboard hook isolated behind a Backend seam.
package clipboard

import (
	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/wire"
)

// outboundCapacity bounds how many locally-captured clipboard events can
// be queued before the relay session drains them; a hook firing faster
// than the session can send is vanishingly unlikely, so overflow just logs
// and drops the newly captured event rather than blocking the hook callback.
const outboundCapacity = 4

// Backend performs the platform-specific clipboard and global-hotkey work.
// Tests use a fake; production builds use the Windows hook/clipboard
// backend in backend_windows.go.
type Backend interface {
	// InstallHook starts watching for a local Ctrl+C press and calls onCtrlC
	// each time one fires. onCtrlC may be called from any goroutine.
	InstallHook(onCtrlC func()) error
	RemoveHook()

	// ReadClipboard captures the current system clipboard contents as a
	// ClipboardEvent, preferring file content over text the same way the
	// original did.
	ReadClipboard() (wire.ClipboardEvent, error)

	WriteText(text string) error
	WriteFile(fileName string, data []byte) error
}

// Watcher implements relaysession.ClipboardWatcher.
type Watcher struct {
	backend  Backend
	log      *agentlog.Logger
	outbound chan wire.ClipboardEvent
}

// New creates a Watcher around backend.
func New(backend Backend, log *agentlog.Logger) *Watcher {
	return &Watcher{
		backend:  backend,
		log:      log,
		outbound: make(chan wire.ClipboardEvent, outboundCapacity),
	}
}

// Start installs the global Ctrl+C hook.
func (w *Watcher) Start() {
	if err := w.backend.InstallHook(w.onCtrlC); err != nil {
		w.log.Errorf("clipboard: failed to install keyboard hook: %v", err)
	}
}

// Stop removes the global hook.
func (w *Watcher) Stop() {
	w.backend.RemoveHook()
}

// Outbound implements relaysession.ClipboardWatcher.
func (w *Watcher) Outbound() <-chan wire.ClipboardEvent {
	return w.outbound
}

// Apply implements relaysession.ClipboardWatcher: it writes an inbound
// ClipboardEvent to the local system clipboard.
func (w *Watcher) Apply(event wire.ClipboardEvent) {
	if event.IsFile {
		if err := w.backend.WriteFile(event.FileName, event.FileData); err != nil {
			w.log.Errorf("clipboard: failed to write received file %q: %v", event.FileName, err)
		}
		return
	}
	if err := w.backend.WriteText(event.Text); err != nil {
		w.log.Errorf("clipboard: failed to write received text: %v", err)
	}
}

// onCtrlC is the hook callback: it captures the current clipboard and
// enqueues it for the relay session to forward. Runs on whatever goroutine
// the platform hook delivers the keystroke on, so it never blocks.
func (w *Watcher) onCtrlC() {
	event, err := w.backend.ReadClipboard()
	if err != nil {
		w.log.Warningf("clipboard: ctrl+c captured but clipboard read failed: %v", err)
		return
	}
	select {
	case w.outbound <- event:
	default:
		w.log.Warningf("clipboard: outbound queue full, dropping captured clipboard event")
	}
}
