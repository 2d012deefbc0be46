package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/internal/observe"
)

// ErrAllFailed is returned when no member of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable backends, each behind its own
// [Breaker]. Members are added before the group is shared; calls are safe
// for concurrent use afterwards.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns a group whose first member is primary. Every member gets
// a breaker built from cfg with the member's name.
func NewGroup[T any](primary T, name string, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback. Members are tried in the order they were added.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Call runs fn against each member in order until one succeeds. Members
// with an open breaker are skipped. A cancelled ctx stops the walk and is
// not held against the member that observed it.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	log := observe.Logger(ctx)
	for i := range g.members {
		m := &g.members[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		}, func(err error) bool { return ctx.Err() != nil })
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("backend skipped, circuit open", "backend", m.name)
			continue
		}
		log.Warn("backend failed, trying next", "backend", m.name, "err", err)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Available returns [ErrCircuitOpen] when every member's breaker is open,
// nil otherwise.
func (g *Group[T]) Available() error {
	for i := range g.members {
		if g.members[i].breaker.State() != StateOpen {
			return nil
		}
	}
	return ErrCircuitOpen
}
