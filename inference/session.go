package inference

import "github.com/nvr-ai/go-detect/models/model"

// Session runs one loaded network. Sessions are not re-entrant: a session
// serves one Run at a time and is shared through a SessionPool.
type Session interface {
	// Run executes the network on input and returns its outputs in the
	// order the model decoder expects them.
	Run(input model.Input) ([]model.Output, error)
	// Close releases the native resources held by the session.
	Close() error
}

// SessionFactory creates the i-th session of a pool.
type SessionFactory func(i int) (Session, error)
