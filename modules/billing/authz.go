package billing

import (
	"context"

	"github.com/google/uuid"
)

// StaticAuthorizer grants every capability to a fixed set of actors. It is
// the minimal Authorizer for deployments without a full RBAC layer; swap in
// a richer implementation without touching the handlers.
type StaticAuthorizer struct {
	actors map[uuid.UUID]struct{}
}

// NewStaticAuthorizer builds an authorizer from a list of trusted actor IDs.
func NewStaticAuthorizer(actorIDs []uuid.UUID) *StaticAuthorizer {
	actors := make(map[uuid.UUID]struct{}, len(actorIDs))
	for _, id := range actorIDs {
		if id != uuid.Nil {
			actors[id] = struct{}{}
		}
	}
	return &StaticAuthorizer{actors: actors}
}

func (a *StaticAuthorizer) Allow(_ context.Context, actorID uuid.UUID, _ string) bool {
	_, ok := a.actors[actorID]
	return ok
}
