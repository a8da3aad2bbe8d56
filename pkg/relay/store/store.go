package store

// Store keeps track of relay slots. A slot is reserved when the first peer arrives, claimed when
// the second one joins it and released once both are gone. A slot number is never handed out
// twice while it is reserved or claimed
type Store[T any] interface {
	// Reserve marks slot as waiting with the given value. Returns false if the slot is in use
	Reserve(slot int, value T) bool
	// Claim returns the value of a waiting slot and marks it as paired. Returns false if the slot
	// is unknown or already paired
	Claim(slot int) (T, bool)
	Release(slot int)
	Len() int
}
