package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize checks whether actor, acting with role, may perform action on object.
	// Actors are "system", "user:<id>" or "api_key:<key_id>".
	Authorize(ctx context.Context, actor string, role string, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
