package types

import "context"

// TokenCounter estimates the token cost of a turn list. Implementations may
// call a provider API; callers treat an error as "estimate unavailable" and
// fall back to a character-based approximation.
type TokenCounter func(turns []Turn) (int, error)

// ChatFunc invokes the model with a prepared turn list and returns the text
// content of its reply. It is the only external call the memory engine makes.
type ChatFunc func(ctx context.Context, turns []Turn) (string, error)
