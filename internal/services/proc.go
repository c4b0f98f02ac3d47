package services

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

const (
	// stopPollAttempts bounds how many times Stop polls for exit after
	// the graceful signal before escalating to SIGKILL.
	stopPollAttempts = 50

	// stopPollInterval is the spacing between exit polls.
	stopPollInterval = 100 * time.Millisecond
)

// process owns one spawned server binary. It wraps exec.Cmd with the
// two-stage graceful-then-forceful termination the services share:
//
//	Stopping → poll for exit (stopPollAttempts × stopPollInterval)
//	         → Stopped, or SIGKILL → ForceKilled
//
// The wait goroutine started by spawn is the only caller of cmd.Wait,
// so the child is always reaped exactly once.
type process struct {
	cmd *exec.Cmd

	// done receives the cmd.Wait result exactly once, then is closed.
	// Exit polling is a receive on this channel with a deadline.
	done chan error
}

// spawn starts cmd and begins reaping it in the background.
func spawn(cmd *exec.Cmd) (*process, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", cmd.Path, err)
	}

	p := &process{cmd: cmd, done: make(chan error, 1)}
	go func() {
		p.done <- cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Pid returns the OS process id.
func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

// Alive reports whether the child has not yet exited.
func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Signal delivers sig to the child. Errors (process already gone) are
// returned for the caller to swallow.
func (p *process) Signal(sig syscall.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// waitExit polls for exit up to attempts × interval and reports whether
// the child exited in time. Used by services that try a protocol-level
// shutdown before falling back to signals.
func (p *process) waitExit(attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		select {
		case <-p.done:
			return true
		case <-time.After(interval):
		}
	}
	return false
}

// Stop drives the termination state machine. It sends SIGTERM, polls
// for exit up to the attempt budget, then force-kills. forced reports
// whether SIGKILL was needed. Stop never fails: by return the child has
// exited and been reaped, unless ctx was cancelled first.
func (p *process) Stop(ctx context.Context) (forced bool) {
	if !p.Alive() {
		return false
	}

	_ = p.Signal(syscall.SIGTERM)

	for i := 0; i < stopPollAttempts; i++ {
		select {
		case <-p.done:
			return false
		case <-ctx.Done():
			// Caller gave up waiting; make sure the child dies anyway.
			_ = p.cmd.Process.Kill()
			return true
		case <-time.After(stopPollInterval):
		}
	}

	_ = p.cmd.Process.Kill()
	<-p.done
	return true
}
