// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines lifecycle hooks that allow custom logic to be executed
// before, after or around persistence actions such as create, update,
// remove and save.
package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Phase selects when a hook runs relative to its action.
type Phase string

const (
	// PhaseBefore hooks run before the action, in registration order.
	PhaseBefore Phase = "before"
	// PhaseAfter hooks run after the action, in registration order.
	PhaseAfter Phase = "after"
	// PhaseAround hooks run on both sides of the action, nested like an
	// onion: the first registered wraps all later ones.
	PhaseAround Phase = "around"
)

// Action names a lifecycle action hooks can attach to.
type Action string

const (
	// ActionCreate is the insertion of a new document.
	ActionCreate Action = "create"
	// ActionUpdate is the replacement of an existing document.
	ActionUpdate Action = "update"
	// ActionRemove is the deletion of a document.
	ActionRemove Action = "remove"
	// ActionSave wraps create or update, whichever save dispatches to.
	ActionSave Action = "save"
)

// HookFunc is a lifecycle hook. It receives the document the action runs
// on and may block on I/O; a returned error aborts the action.
type HookFunc func(ctx context.Context, doc *Document) error

// HookMap registers several hooks at once, keyed by "phase:action".
//
// Example:
//
//	doc.Hooks(core.HookMap{
//		"before:save":   {validate},
//		"around:create": {trace},
//	})
type HookMap map[string][]HookFunc

// HookRegistry holds the ordered hook chains of one document.
type HookRegistry struct {
	before map[Action][]HookFunc
	after  map[Action][]HookFunc
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		before: make(map[Action][]HookFunc),
		after:  make(map[Action][]HookFunc),
	}
}

// Register appends fns to the chain selected by phase and action.
//
// An around hook is appended to the before chain and prepended to the after
// chain, so with around hooks X then Y the order is
// X, Y, action, Y, X.
func (r *HookRegistry) Register(phase Phase, action Action, fns ...HookFunc) error {
	switch phase {
	case PhaseBefore, PhaseAfter, PhaseAround:
	default:
		return fmt.Errorf("%w: unknown hook phase %q", ErrInvalidArgument, phase)
	}
	switch action {
	case ActionCreate, ActionUpdate, ActionRemove, ActionSave:
	default:
		return fmt.Errorf("%w: unknown hook action %q", ErrInvalidArgument, action)
	}
	for _, fn := range fns {
		switch phase {
		case PhaseBefore:
			r.before[action] = append(r.before[action], fn)
		case PhaseAfter:
			r.after[action] = append(r.after[action], fn)
		case PhaseAround:
			r.before[action] = append(r.before[action], fn)
			r.after[action] = append([]HookFunc{fn}, r.after[action]...)
		}
	}
	return nil
}

// RegisterMap expands m into Register calls, in sorted key order.
func (r *HookRegistry) RegisterMap(m HookMap) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		phase, action, ok := strings.Cut(key, ":")
		if !ok {
			return fmt.Errorf("%w: hook key %q is not phase:action", ErrInvalidArgument, key)
		}
		// validate every key before registering any
		if err := r.Register(Phase(phase), Action(action)); err != nil {
			return err
		}
	}
	for _, key := range keys {
		phase, action, _ := strings.Cut(key, ":")
		if err := r.Register(Phase(phase), Action(action), m[key]...); err != nil {
			return err
		}
	}
	return nil
}

// Chain returns a copy of the hooks registered for phase and action.
func (r *HookRegistry) Chain(phase Phase, action Action) []HookFunc {
	var chain []HookFunc
	switch phase {
	case PhaseBefore:
		chain = r.before[action]
	case PhaseAfter:
		chain = r.after[action]
	}
	return append([]HookFunc(nil), chain...)
}

// Run executes the chain for phase and action strictly in order. Each hook
// completes before the next starts; the first failure stops the chain and
// is returned as a *HookError.
func (r *HookRegistry) Run(ctx context.Context, phase Phase, action Action, doc *Document) error {
	chain := r.Chain(phase, action)
	if len(chain) == 0 {
		return nil
	}
	hookCtx := withHookPhase(ctx, HookPhase{Phase: phase, Action: action})
	for i, fn := range chain {
		if fn == nil {
			return &HookError{Phase: phase, Action: action, Index: i, Err: ErrHookMissing}
		}
		if err := fn(hookCtx, doc); err != nil {
			return &HookError{Phase: phase, Action: action, Index: i, Err: err}
		}
	}
	return nil
}

// HookPhase identifies the chain a hook is running in.
type HookPhase struct {
	Phase  Phase
	Action Action
}

type hookPhaseKey struct{}

func withHookPhase(ctx context.Context, p HookPhase) context.Context {
	return context.WithValue(ctx, hookPhaseKey{}, p)
}

// HookPhaseFrom returns the phase and action of the running hook chain.
// Around hooks use it to tell their two invocations apart.
//
// Example:
//
//	doc.Around(core.ActionSave, func(ctx context.Context, d *core.Document) error {
//		if p, _ := core.HookPhaseFrom(ctx); p.Phase == core.PhaseBefore {
//			// opening half
//		}
//		return nil
//	})
func HookPhaseFrom(ctx context.Context) (HookPhase, bool) {
	p, ok := ctx.Value(hookPhaseKey{}).(HookPhase)
	return p, ok
}

// Hook registers fns on the document for phase and action.
func (d *Document) Hook(phase Phase, action Action, fns ...HookFunc) error {
	return d.hooks.Register(phase, action, fns...)
}

// Hooks registers every entry of m, in sorted key order.
func (d *Document) Hooks(m HookMap) error {
	return d.hooks.RegisterMap(m)
}

// Before registers fns to run before action.
func (d *Document) Before(action Action, fns ...HookFunc) {
	_ = d.hooks.Register(PhaseBefore, action, fns...)
}

// After registers fns to run after action.
func (d *Document) After(action Action, fns ...HookFunc) {
	_ = d.hooks.Register(PhaseAfter, action, fns...)
}

// Around registers fns to run on both sides of action.
func (d *Document) Around(action Action, fns ...HookFunc) {
	_ = d.hooks.Register(PhaseAround, action, fns...)
}

// RunHooks executes the document's chain for phase and action.
func (d *Document) RunHooks(ctx context.Context, phase Phase, action Action) error {
	return d.hooks.Run(ctx, phase, action, d)
}
