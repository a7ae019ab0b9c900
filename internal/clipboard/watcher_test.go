package clipboard

import (
	"sync"
	"testing"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/wire"
)

type fakeBackend struct {
	mu          sync.Mutex
	onCtrlC     func()
	hookErr     error
	readResult  wire.ClipboardEvent
	readErr     error
	writtenText []string
	writtenFile []struct {
		name string
		data []byte
	}
	removed bool
}

func (f *fakeBackend) InstallHook(onCtrlC func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hookErr != nil {
		return f.hookErr
	}
	f.onCtrlC = onCtrlC
	return nil
}

func (f *fakeBackend) RemoveHook() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

func (f *fakeBackend) ReadClipboard() (wire.ClipboardEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readResult, f.readErr
}

func (f *fakeBackend) WriteText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writtenText = append(f.writtenText, text)
	return nil
}

func (f *fakeBackend) WriteFile(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writtenFile = append(f.writtenFile, struct {
		name string
		data []byte
	}{name, data})
	return nil
}

func (f *fakeBackend) fireCtrlC() {
	f.mu.Lock()
	cb := f.onCtrlC
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func TestWatcherForwardsCapturedClipboardOnCtrlC(t *testing.T) {
	backend := &fakeBackend{readResult: wire.ClipboardEvent{Text: "hello"}}
	log := agentlog.New("clipboard-test", nil)
	w := New(backend, log)
	w.Start()
	defer w.Stop()

	backend.fireCtrlC()

	select {
	case event := <-w.Outbound():
		if event.Text != "hello" {
			t.Fatalf("Text = %q, want %q", event.Text, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded clipboard event")
	}
}

func TestWatcherDropsWhenOutboundFullInsteadOfBlocking(t *testing.T) {
	backend := &fakeBackend{readResult: wire.ClipboardEvent{Text: "x"}}
	log := agentlog.New("clipboard-test", nil)
	w := New(backend, log)
	w.Start()
	defer w.Stop()

	for i := 0; i < outboundCapacity+2; i++ {
		backend.fireCtrlC()
	}

	// Draining should yield at most outboundCapacity queued events; the
	// call must not have blocked (fireCtrlC is synchronous above).
	drained := 0
	for {
		select {
		case <-w.Outbound():
			drained++
		default:
			if drained > outboundCapacity {
				t.Fatalf("drained %d events, exceeds capacity %d", drained, outboundCapacity)
			}
			return
		}
	}
}

func TestWatcherApplyText(t *testing.T) {
	backend := &fakeBackend{}
	log := agentlog.New("clipboard-test", nil)
	w := New(backend, log)

	w.Apply(wire.ClipboardEvent{Text: "pasted"})

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.writtenText) != 1 || backend.writtenText[0] != "pasted" {
		t.Fatalf("unexpected WriteText calls: %+v", backend.writtenText)
	}
}

func TestWatcherApplyFile(t *testing.T) {
	backend := &fakeBackend{}
	log := agentlog.New("clipboard-test", nil)
	w := New(backend, log)

	w.Apply(wire.ClipboardEvent{IsFile: true, FileName: "note.txt", FileData: []byte("data")})

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.writtenFile) != 1 || backend.writtenFile[0].name != "note.txt" {
		t.Fatalf("unexpected WriteFile calls: %+v", backend.writtenFile)
	}
}

func TestWatcherStopRemovesHook(t *testing.T) {
	backend := &fakeBackend{}
	log := agentlog.New("clipboard-test", nil)
	w := New(backend, log)
	w.Start()
	w.Stop()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if !backend.removed {
		t.Fatal("expected RemoveHook to be called")
	}
}
