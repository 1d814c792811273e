package environment

import (
	"context"
	"fmt"
	"strings"

	"hostweave/internal/api"
)

// HierarchySeparator replaces the double-underscore separator in variable
// names so they merge directly into hierarchical configuration.
const HierarchySeparator = ":"

// CallbackContext collects variables set by producers during one
// materialization. Names are tracked by configuration key, so A__B and A:B
// are the same variable. A later write replaces the earlier value and moves
// the key to the end of the order.
type CallbackContext struct {
	Mode api.ExecutionMode

	order  []string
	values map[string]Value
}

func newCallbackContext(mode api.ExecutionMode) *CallbackContext {
	return &CallbackContext{Mode: mode, values: make(map[string]Value)}
}

// Set records a value for name.
func (c *CallbackContext) Set(name string, v Value) {
	key := ConfigKey(name)
	if _, exists := c.values[key]; exists {
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.order = append(c.order, key)
	c.values[key] = v
}

// SetString records a literal value for name.
func (c *CallbackContext) SetString(name, s string) { c.Set(name, Literal(s)) }

// Producer contributes environment variables to a CallbackContext.
type Producer func(ctx context.Context, c *CallbackContext) error

// Var returns a producer setting a single variable.
func Var(name string, v Value) Producer {
	return func(_ context.Context, c *CallbackContext) error {
		c.Set(name, v)
		return nil
	}
}

// String returns a producer setting a single literal variable.
func String(name, s string) Producer { return Var(name, Literal(s)) }

// Callback returns a producer that runs fn against the context when the
// environment is materialized.
func Callback(fn func(ctx context.Context, c *CallbackContext) error) Producer {
	return Producer(fn)
}

// ConfigKey rewrites a variable name into a hierarchical configuration key.
func ConfigKey(name string) string {
	return strings.ReplaceAll(name, "__", HierarchySeparator)
}

// Entry is one materialized variable in configuration form.
type Entry struct {
	Key   string
	Value string
}

// Env is a materialized environment in final write order.
type Env []Entry

// Map returns the entries keyed by configuration key.
func (e Env) Map() map[string]string {
	out := make(map[string]string, len(e))
	for _, entry := range e {
		out[entry.Key] = entry.Value
	}
	return out
}

// Materialize runs the producers in declaration order and resolves every
// resulting value. Deferred values are awaited one at a time in final write
// order; a value replaced before resolution is never awaited.
func Materialize(ctx context.Context, mode api.ExecutionMode, producers []Producer) (Env, error) {
	cc := newCallbackContext(mode)
	for i, p := range producers {
		if p == nil {
			return nil, fmt.Errorf("environment producer %d is nil", i)
		}
		if err := p(ctx, cc); err != nil {
			return nil, err
		}
	}

	out := make(Env, 0, len(cc.order))
	for _, key := range cc.order {
		val, err := cc.values[key].Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: key, Value: val})
	}
	return out, nil
}
