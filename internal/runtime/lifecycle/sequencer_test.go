package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"hostweave/internal/model"
)

func recordingHook(name string, trace *[]string, failAt string) *HookFuncs {
	step := func(phase string) error {
		*trace = append(*trace, name+":"+phase)
		if phase == failAt {
			return errors.New(name + " failed")
		}
		return nil
	}
	return &HookFuncs{
		HookName:      name,
		OnBeforeStart: func(ctx context.Context, m *model.Model) error { return step("before") },
		OnAllocated:   func(ctx context.Context, m *model.Model) error { return step("after") },
		OnClose:       func(ctx context.Context) error { return step("close") },
	}
}

func TestSequencerPhaseOrder(t *testing.T) {
	var trace []string
	s := New()
	s.Register(recordingHook("a", &trace, ""))
	s.Register(recordingHook("b", &trace, ""))

	allocate := func(ctx context.Context, m *model.Model) error {
		trace = append(trace, "allocate")
		return nil
	}
	if err := s.Start(context.Background(), model.NewModel(), allocate); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background(), model.NewModel(), allocate); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := "a:before b:before allocate a:after b:after b:close a:close"
	if got := strings.Join(trace, " "); got != want {
		t.Fatalf("unexpected trace\n got: %s\nwant: %s", got, want)
	}
}

func TestSequencerFailFastStillDisposes(t *testing.T) {
	var trace []string
	s := New()
	s.Register(recordingHook("a", &trace, "after"))
	s.Register(recordingHook("b", &trace, ""))

	err := s.Start(context.Background(), model.NewModel(), nil)
	if err == nil || !strings.Contains(err.Error(), "a failed") {
		t.Fatalf("expected failure from a, got %v", err)
	}
	_ = s.Close(context.Background())

	want := "a:before b:before a:after b:close a:close"
	if got := strings.Join(trace, " "); got != want {
		t.Fatalf("unexpected trace\n got: %s\nwant: %s", got, want)
	}
}

func TestSequencerCloseWithoutStart(t *testing.T) {
	s := New()
	s.Register(&HookFuncs{HookName: "noop"})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close without start: %v", err)
	}
}

func TestSequencerRegisterAfterStartPanics(t *testing.T) {
	s := New()
	if err := s.Start(context.Background(), model.NewModel(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	s.Register(&HookFuncs{HookName: "late"})
}
