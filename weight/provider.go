package weight

import (
	E "github.com/sagernet/sing/common/exceptions"
)

var (
	ErrProviderClosed    = E.New("weight provider closed")
	ErrUnknownConnection = E.New("unknown connection")
	ErrInvalidWeight     = E.New("invalid weight")
	ErrInvalidName       = E.New("invalid connection name")
)

// Provider hands out the weight record of a connection. Implementations are
// shared by every connection and must be safe for concurrent use.
type Provider interface {
	// Create returns a handle to the record named name, creating it with
	// initialWeight if it does not exist yet. Creating an existing name
	// shares the record.
	Create(name string, initialWeight uint32) (*Handle, error)
	// Read returns the current weight. It never blocks on I/O.
	Read(handle *Handle) uint32
	// Release gives the handle back. Releasing a nil or already released
	// handle is a no-op.
	Release(handle *Handle)
}

// Admin is the operator side of a provider.
type Admin interface {
	Get(name string) (uint32, error)
	Set(name string, weight uint32) error
	List() ([]Record, error)
}

type Record struct {
	Name       string `json:"name"`
	Weight     uint32 `json:"weight"`
	References int    `json:"references"`
}

// Handle is one connection's reference to a weight record.
type Handle struct {
	name     string
	record   *record
	released bool
}

func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}
