package transport

import (
	"context"
	"sync"
	"testing"
)

// frameSink collects frames delivered to an adapter's inbound handler.
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) handle(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

func (s *frameSink) strings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = string(f)
	}
	return out
}

func openAdapter(t *testing.T, factory Factory, name string, sink *frameSink) Adapter {
	t.Helper()
	a := factory(Channel{Name: name})
	a.OnInbound(sink.handle)
	a.OnClose(func(err error) {})
	result, err := a.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open(%s) returned error: %v", name, err)
	}
	if result != OpenSubscribed {
		t.Fatalf("Open(%s) = %v, want subscribed", name, result)
	}
	return a
}

func TestMemoryBroker_LoopbackDelivery(t *testing.T) {
	broker := NewMemoryBroker()
	factory := broker.Factory()

	var sinkA, sinkB frameSink
	a := openAdapter(t, factory, "room", &sinkA)
	defer a.Close(context.Background())
	b := openAdapter(t, factory, "room", &sinkB)
	defer b.Close(context.Background())

	if err := a.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	// Both subscribers receive the frame, including the sender.
	for name, sink := range map[string]*frameSink{"a": &sinkA, "b": &sinkB} {
		got := sink.strings()
		if len(got) != 1 || got[0] != "hello" {
			t.Errorf("adapter %s received %v, want [hello]", name, got)
		}
	}
}

func TestMemoryBroker_ChannelsAreIsolated(t *testing.T) {
	broker := NewMemoryBroker()
	factory := broker.Factory()

	var sinkA, sinkB frameSink
	a := openAdapter(t, factory, "room-1", &sinkA)
	defer a.Close(context.Background())
	b := openAdapter(t, factory, "room-2", &sinkB)
	defer b.Close(context.Background())

	if err := a.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if got := sinkB.strings(); len(got) != 0 {
		t.Errorf("room-2 adapter received room-1 traffic: %v", got)
	}
}

func TestMemoryBroker_CloseDetaches(t *testing.T) {
	broker := NewMemoryBroker()
	factory := broker.Factory()

	var sink frameSink
	a := openAdapter(t, factory, "room", &sink)

	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Errorf("repeated Close returned error: %v", err)
	}

	broker.Publish("room", []byte("late"))
	if got := sink.strings(); len(got) != 0 {
		t.Errorf("closed adapter received frames: %v", got)
	}

	if err := a.Send(context.Background(), []byte("x")); err == nil {
		t.Error("Send on a closed adapter should fail")
	}
}

func TestMemoryBroker_PublishFromOutside(t *testing.T) {
	broker := NewMemoryBroker()
	factory := broker.Factory()

	var sink frameSink
	a := openAdapter(t, factory, "room", &sink)
	defer a.Close(context.Background())

	broker.Publish("room", []byte("injected"))

	got := sink.strings()
	if len(got) != 1 || got[0] != "injected" {
		t.Errorf("adapter received %v, want [injected]", got)
	}
}

func TestNewFactory_Validation(t *testing.T) {
	if _, err := NewFactory(KindWebsocket, Options{}); err == nil {
		t.Error("websocket factory without URL should fail")
	}
	if _, err := NewFactory(KindRedis, Options{}); err == nil {
		t.Error("redis factory without address should fail")
	}
	if _, err := NewFactory(Kind("carrier-pigeon"), Options{}); err == nil {
		t.Error("unknown transport kind should fail")
	}
	if _, err := NewFactory(KindMemory, Options{}); err != nil {
		t.Errorf("memory factory returned error: %v", err)
	}
}
