package lifecycle

import (
	"context"

	"hostweave/internal/model"
)

// Hook is a participant in the application lifecycle. Each phase is invoked
// at most once per run.
type Hook interface {
	Name() string
	BeforeStart(ctx context.Context, m *model.Model) error
	AfterEndpointsAllocated(ctx context.Context, m *model.Model) error
	Close(ctx context.Context) error
}

// HookFuncs wraps optional callbacks into a Hook.
type HookFuncs struct {
	HookName      string
	OnBeforeStart func(ctx context.Context, m *model.Model) error
	OnAllocated   func(ctx context.Context, m *model.Model) error
	OnClose       func(ctx context.Context) error
}

func (h *HookFuncs) Name() string { return h.HookName }

func (h *HookFuncs) BeforeStart(ctx context.Context, m *model.Model) error {
	if h.OnBeforeStart == nil {
		return nil
	}
	return h.OnBeforeStart(ctx, m)
}

func (h *HookFuncs) AfterEndpointsAllocated(ctx context.Context, m *model.Model) error {
	if h.OnAllocated == nil {
		return nil
	}
	return h.OnAllocated(ctx, m)
}

func (h *HookFuncs) Close(ctx context.Context) error {
	if h.OnClose == nil {
		return nil
	}
	return h.OnClose(ctx)
}
