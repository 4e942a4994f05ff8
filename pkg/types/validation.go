package types

// Client id bounds enforced at accept time. An id outside these bounds is a
// protocol error, refused before any session state is created.
const (
	MinClientIDLength = 1
	MaxClientIDLength = 100
)

// IsValidClientID checks the caller-supplied session identifier. Only length
// is constrained; content is opaque to the registry.
func IsValidClientID(clientID string) bool {
	return len(clientID) >= MinClientIDLength && len(clientID) <= MaxClientIDLength
}
