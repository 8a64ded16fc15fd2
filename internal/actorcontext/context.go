// Package actorcontext carries the authenticated actor identity supplied
// by the external auth collaborator. Every service call is identity-scoped.
package actorcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ActorKey is the request context key for the authenticated actor.
type ActorKey struct{}

type Actor struct {
	ID    snowflake.ID
	Kind  string // "customer", "admin", "system"
	Label string // free-text origin, e.g. "scheduler"
}

const (
	KindCustomer = "customer"
	KindAdmin    = "admin"
	KindSystem   = "system"
)

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorKey{}, actor)
}

// ActorFromContext returns the actor from context, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	value := ctx.Value(ActorKey{})
	if value == nil {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	return actor, ok
}

// ParseActorID parses an actor id from a header value.
func ParseActorID(raw string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return id, true
}
