package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrSynonymNotFound = errors.New("synonym entry not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrEmptyEmbedding  = errors.New("embedding provider returned no vector")
	ErrBadGeneration   = errors.New("model reply is not a valid synonym payload")
)
