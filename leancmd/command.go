// Package leancmd runs the Lean build tool on a single file.
package leancmd

import (
	"context"
	"sync"
	"time"

	"github.com/corymhall/proofsync/debug"
)

const DefaultTimeout = 30 * time.Second

// Runner runs builds one at a time.
type Runner struct {
	once sync.Once

	serialized chan struct{}

	// Command is the build command; the file path is appended to it.
	Command []string
	// Dir is the working directory, normally the project root.
	Dir     string
	Timeout time.Duration
}

// New returns a runner for `lake env lean --root=<root> <file>`.
func New(root string, timeout time.Duration) *Runner {
	return &Runner{
		Command: []string{"lake", "env", "lean", "--root=" + root},
		Dir:     root,
		Timeout: timeout,
	}
}

func (r *Runner) initialize() {
	r.once.Do(func() {
		r.serialized = make(chan struct{}, 1)
		if r.Timeout <= 0 {
			r.Timeout = DefaultTimeout
		}
	})
}

// Run builds path. Only a failure to wait for its turn is returned as an
// error; build failures and timeouts are reported in the Result.
func (r *Runner) Run(ctx context.Context, path string) (*Result, error) {
	r.initialize()

	// Acquire the serialization lock.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r.serialized <- struct{}{}:
		defer func() { <-r.serialized }()
	}

	ctx, done := debug.Start(ctx, "lean.build", "path", path)
	defer done()
	res := run(ctx, r.Command, r.Dir, path, r.Timeout)
	if !res.Success {
		debug.Debug.Log(ctx, "build failed", "returncode", res.ReturnCode)
	}
	return res, nil
}
