package leancmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of one build.
type Result struct {
	ReturnCode int    `json:"returncode"`
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Command    string `json:"command"`
}

func run(ctx context.Context, command []string, dir, path string, timeout time.Duration) *Result {
	args := append(append([]string{}, command...), path)
	res := &Result{Command: strings.Join(args, " ")}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	// lake leaves lean running as a child; don't wait on its pipes forever
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ReturnCode = -1
		res.Stderr = fmt.Sprintf("timeout after %s", timeout)
		return res
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Success = true
	case errors.As(err, &exitErr):
		res.ReturnCode = exitErr.ExitCode()
	default:
		// the command could not be started at all
		res.ReturnCode = -1
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
	}
	return res
}
