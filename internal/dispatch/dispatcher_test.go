package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/navisrobotics/navis-core/internal/bustest"
	"github.com/navisrobotics/navis-core/internal/routing"
	"github.com/navisrobotics/navis-core/internal/wire"
)

func newHarness(t *testing.T) (*bustest.Bus, *routing.Router, *Dispatcher) {
	t.Helper()
	bus := bustest.New()
	router := routing.New(bus, 1, nil)
	t.Cleanup(router.Close)
	disp := New(router, nil)
	t.Cleanup(disp.Close)
	return bus, router, disp
}

// startResponder subscribes a fake device that acks every command on
// its command topic. okFn decides the ack's outcome per envelope.
func startResponder(t *testing.T, router *routing.Router, deviceID string, okFn func(wire.Envelope) (bool, string)) {
	t.Helper()
	err := router.Subscribe(routing.Topics{}.Command(deviceID), func(_ string, payload []byte) {
		env, err := wire.DecodeEnvelope(payload)
		if err != nil {
			t.Errorf("responder: decode command: %v", err)
			return
		}
		if env.RequestID == "" {
			return
		}
		ok, msg := okFn(env)
		ack, err := wire.Encode(wire.KindAck, wire.Ack{RequestID: env.RequestID, OK: ok, Error: msg})
		if err != nil {
			t.Errorf("responder: encode ack: %v", err)
			return
		}
		if err := router.Publish(routing.Topics{}.Ack(deviceID), ack); err != nil {
			t.Errorf("responder: publish ack: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("responder subscribe: %v", err)
	}
}

func TestSendFireAndForget(t *testing.T) {
	bus, _, disp := newHarness(t)

	env, err := wire.NewEnvelope(wire.KindMove, wire.Move{V: 0.5, Omega: 0.1})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if err := disp.Send("dev-1", env); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := bus.PublishedTo(routing.Topics{}.Command("dev-1"))
	if len(msgs) != 1 {
		t.Fatalf("commands published = %d, want 1", len(msgs))
	}
	got, err := wire.DecodeEnvelope(msgs[0])
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if got.Kind != wire.KindMove {
		t.Errorf("Kind = %q, want %q", got.Kind, wire.KindMove)
	}
	if got.RequestID != "" {
		t.Errorf("fire-and-forget should not carry a request id, got %q", got.RequestID)
	}
}

func TestSendBusDown(t *testing.T) {
	bus, _, disp := newHarness(t)
	bus.SetDown(true)

	env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{})
	if err := disp.Send("dev-1", env); !errors.Is(err, ErrSend) {
		t.Errorf("Send() error = %v, want ErrSend", err)
	}
}

func TestSendAndWaitReceivesAck(t *testing.T) {
	_, router, disp := newHarness(t)
	startResponder(t, router, "dev-1", func(wire.Envelope) (bool, string) {
		return true, ""
	})

	env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{V: 1})
	ack, err := disp.SendAndWait(context.Background(), "dev-1", env, time.Second)
	if err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	if !ack.OK {
		t.Errorf("ack.OK = false, want true; error = %q", ack.Error)
	}
	if ack.RequestID == "" {
		t.Error("ack carries no request id")
	}
}

func TestSendAndWaitRejectedCommand(t *testing.T) {
	_, router, disp := newHarness(t)
	startResponder(t, router, "dev-1", func(env wire.Envelope) (bool, string) {
		return false, "unsupported command kind"
	})

	env, _ := wire.NewEnvelope(wire.KindPanTilt, wire.PanTilt{Pan: 0.3})
	ack, err := disp.SendAndWait(context.Background(), "dev-1", env, time.Second)
	if err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	if ack.OK {
		t.Error("ack.OK = true, want false")
	}
	if ack.Error != "unsupported command kind" {
		t.Errorf("ack.Error = %q", ack.Error)
	}
}

func TestSendAndWaitTimeout(t *testing.T) {
	_, _, disp := newHarness(t)

	env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{})
	_, err := disp.SendAndWait(context.Background(), "dev-silent", env, 50*time.Millisecond)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("SendAndWait() error = %v, want ErrCommandTimeout", err)
	}
}

func TestSendAndWaitContextCancelled(t *testing.T) {
	_, _, disp := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{})
	_, err := disp.SendAndWait(ctx, "dev-silent", env, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SendAndWait() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrCommandTimeout) {
		t.Errorf("SendAndWait() error = %v, cancellation must not look like a timeout", err)
	}
}

func TestConcurrentWaitersGetTheirOwnAcks(t *testing.T) {
	_, router, disp := newHarness(t)
	startResponder(t, router, "dev-1", func(wire.Envelope) (bool, string) {
		return true, ""
	})

	const waiters = 8
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{V: 1})
			ack, err := disp.SendAndWait(context.Background(), "dev-1", env, time.Second)
			if err == nil && !ack.OK {
				err = errors.New("ack not OK")
			}
			errs <- err
		}()
	}
	for i := 0; i < waiters; i++ {
		if err := <-errs; err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
}

func TestCommandsArriveInSendOrder(t *testing.T) {
	_, router, disp := newHarness(t)

	received := make(chan float64, 16)
	err := router.Subscribe(routing.Topics{}.Command("dev-1"), func(_ string, payload []byte) {
		env, err := wire.DecodeEnvelope(payload)
		if err != nil {
			t.Errorf("decode command: %v", err)
			return
		}
		var mv wire.Move
		if err := env.Decode(&mv); err != nil {
			t.Errorf("decode move: %v", err)
			return
		}
		received <- mv.V
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 1; i <= 10; i++ {
		env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{V: float64(i)})
		if err := disp.Send("dev-1", env); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	for i := 1; i <= 10; i++ {
		select {
		case v := <-received:
			if v != float64(i) {
				t.Fatalf("command %d arrived with V = %v", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("command %d never arrived", i)
		}
	}
}

func TestCloseFailsWaiters(t *testing.T) {
	_, _, disp := newHarness(t)

	done := make(chan error, 1)
	go func() {
		env, _ := wire.NewEnvelope(wire.KindMove, wire.Move{})
		_, err := disp.SendAndWait(context.Background(), "dev-silent", env, 10*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	disp.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("SendAndWait() after Close error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not return after Close")
	}

	if err := disp.Send("dev-1", wire.Envelope{Kind: wire.KindMove}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}
