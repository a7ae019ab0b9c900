package inputsink

import (
	"sync"
	"testing"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/wire"
)

type fakeBackend struct {
	mu          sync.Mutex
	width       int32
	height      int32
	mouseCalls  [][]MouseAction
	touchCalls  [][]TouchContact
	keyCalls    []struct {
		vk      uint16
		pressed bool
	}
}

func newFakeBackend(w, h int32) *fakeBackend {
	return &fakeBackend{width: w, height: h}
}

func (f *fakeBackend) ScreenSize() (int32, int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width, f.height, nil
}

func (f *fakeBackend) SendMouseBatch(actions []MouseAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]MouseAction(nil), actions...)
	f.mouseCalls = append(f.mouseCalls, cp)
	return nil
}

func (f *fakeBackend) SendTouch(contacts []TouchContact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]TouchContact(nil), contacts...)
	f.touchCalls = append(f.touchCalls, cp)
	return nil
}

func (f *fakeBackend) SendKey(vk uint16, pressed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyCalls = append(f.keyCalls, struct {
		vk      uint16
		pressed bool
	}{vk, pressed})
	return nil
}

func (f *fakeBackend) mouseCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mouseCalls)
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestHandleMouseRescalesCoordinatesToLocalScreen(t *testing.T) {
	backend := newFakeBackend(3840, 2160) // local screen is 2x the 1920x1080 reference
	log := agentlog.New("inputsink-test", nil)
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	in.HandleMouse(wire.MouseEvent{X: 960, Y: 540, Mask: wire.MouseMove})

	waitForCondition(t, time.Second, func() bool { return backend.mouseCallCount() == 1 })

	backend.mu.Lock()
	batch := backend.mouseCalls[0]
	backend.mu.Unlock()

	if len(batch) != 1 || batch[0].Flags != MouseFlagMove {
		t.Fatalf("expected a single move action, got %+v", batch)
	}
	// 960 -> local 1920 (2x scale) -> absolute 1920*65535/3840 = 32767
	if batch[0].AbsX != 32767 {
		t.Fatalf("AbsX = %d, want 32767", batch[0].AbsX)
	}
	if batch[0].AbsY != 32767 {
		t.Fatalf("AbsY = %d, want 32767", batch[0].AbsY)
	}
}

func TestHandleMouseLeftClickAppendsButtonActions(t *testing.T) {
	backend := newFakeBackend(1920, 1080)
	log := agentlog.New("inputsink-test", nil)
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	in.HandleMouse(wire.MouseEvent{X: 100, Y: 100, Mask: wire.MouseMove | wire.MouseLeftDown | wire.MouseLeftUp})
	waitForCondition(t, time.Second, func() bool { return backend.mouseCallCount() == 1 })

	backend.mu.Lock()
	batch := backend.mouseCalls[0]
	backend.mu.Unlock()

	if len(batch) != 3 {
		t.Fatalf("expected move+down+up, got %d actions", len(batch))
	}
	if batch[0].Flags != MouseFlagMove || batch[1].Flags != MouseFlagLeftDown || batch[2].Flags != MouseFlagLeftUp {
		t.Fatalf("unexpected action order: %+v", batch)
	}
}

func TestHandleMouseWheelSetsDelta(t *testing.T) {
	backend := newFakeBackend(1920, 1080)
	log := agentlog.New("inputsink-test", nil)
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	in.HandleMouse(wire.MouseEvent{X: 0, Y: 0, Mask: wire.MouseMove | wire.MouseWheel, Value: -120})
	waitForCondition(t, time.Second, func() bool { return backend.mouseCallCount() == 1 })

	backend.mu.Lock()
	batch := backend.mouseCalls[0]
	backend.mu.Unlock()

	var foundWheel bool
	for _, a := range batch {
		if a.Flags == MouseFlagWheel {
			foundWheel = true
			if a.WheelDelta != -120 {
				t.Fatalf("WheelDelta = %d, want -120", a.WheelDelta)
			}
		}
	}
	if !foundWheel {
		t.Fatal("expected a wheel action in the batch")
	}
}

func TestHandleMouseDoubleClickSendsSecondStrokeAfterDelay(t *testing.T) {
	backend := newFakeBackend(1920, 1080)
	log := agentlog.New("inputsink-test", nil)
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	in.HandleMouse(wire.MouseEvent{X: 10, Y: 10, Mask: wire.MouseDoubleClick})

	waitForCondition(t, time.Second, func() bool { return backend.mouseCallCount() == 1 })
	if backend.mouseCallCount() != 1 {
		t.Fatalf("expected exactly one immediate batch, got %d", backend.mouseCallCount())
	}

	waitForCondition(t, time.Second, func() bool { return backend.mouseCallCount() == 2 })
}

func TestHandleTouchRescalesAndMapsPhase(t *testing.T) {
	backend := newFakeBackend(1920, 1080)
	log := agentlog.New("inputsink-test", nil)
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	in.HandleTouch(wire.TouchEvent{Points: []wire.TouchPoint{
		{ID: 1, X: 960, Y: 540, Phase: wire.TouchBegin, Pressure: 2048, Size: 10},
	}})

	waitForCondition(t, time.Second, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.touchCalls) == 1
	})

	backend.mu.Lock()
	contacts := backend.touchCalls[0]
	backend.mu.Unlock()

	if len(contacts) != 1 {
		t.Fatalf("expected one contact, got %d", len(contacts))
	}
	c := contacts[0]
	if c.Flags != TouchFlagDown {
		t.Fatalf("Flags = %v, want TouchFlagDown", c.Flags)
	}
	if c.Pressure != 1024 {
		t.Fatalf("Pressure = %d, want clamped to 1024", c.Pressure)
	}
	if c.Right-c.Left != 20 || c.Bottom-c.Top != 20 {
		t.Fatalf("contact rect not sized to 2*size: %+v", c)
	}
}

func TestHandleTouchTruncatesBeyondContactLimit(t *testing.T) {
	backend := newFakeBackend(1920, 1080)
	log := agentlog.New("inputsink-test", nil)
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	points := make([]wire.TouchPoint, 15)
	for i := range points {
		points[i] = wire.TouchPoint{ID: int32(i), X: 1, Y: 1, Phase: wire.TouchMove}
	}
	in.HandleTouch(wire.TouchEvent{Points: points})

	waitForCondition(t, time.Second, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.touchCalls) == 1
	})

	backend.mu.Lock()
	contacts := backend.touchCalls[0]
	backend.mu.Unlock()
	if len(contacts) != maxTouchContacts {
		t.Fatalf("expected truncation to %d contacts, got %d", maxTouchContacts, len(contacts))
	}
}

func TestHandleKeyboardMapsKnownKey(t *testing.T) {
	backend := newFakeBackend(1920, 1080)
	log := agentlog.New("inputsink-test", nil)
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	in.HandleKeyboard(wire.KeyboardEvent{Key: 'A', Pressed: true})

	waitForCondition(t, time.Second, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.keyCalls) == 1
	})

	backend.mu.Lock()
	call := backend.keyCalls[0]
	backend.mu.Unlock()
	if call.vk != 'A' || !call.pressed {
		t.Fatalf("unexpected key call: %+v", call)
	}
}

func TestHandleKeyboardDropsUnmappedKey(t *testing.T) {
	backend := newFakeBackend(1920, 1080)
	log := agentlog.New("inputsink-test", nil)
	log.EnableCapture()
	in := New(backend, log)
	in.Start()
	defer in.Stop()

	in.HandleKeyboard(wire.KeyboardEvent{Key: 0x7fffffff, Pressed: true})

	// Give the worker a chance to process; no key call should ever land.
	time.Sleep(50 * time.Millisecond)
	backend.mu.Lock()
	n := len(backend.keyCalls)
	backend.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected unmapped key to be dropped, got %d calls", n)
	}

	records := log.Records()
	var warned bool
	for _, r := range records {
		if r.Level == agentlog.Warning {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning to be logged for the unmapped key")
	}
}

func TestVirtualKeyForFunctionKeyRange(t *testing.T) {
	vk, ok := virtualKeyFor(keyF1 + 4) // F5
	if !ok {
		t.Fatal("expected F5 to map")
	}
	if vk != vkF1+4 {
		t.Fatalf("F5 VK = %#x, want %#x", vk, vkF1+4)
	}
}
