package executor

import "context"

// CommandQueue is the FIFO channel external callers push continue, abort,
// replan_dag, and approval_response commands into while a workflow runs.
type CommandQueue struct {
	ch chan Command
}

// NewCommandQueue creates a queue with the given buffer size.
func NewCommandQueue(buffer int) *CommandQueue {
	if buffer <= 0 {
		buffer = 16
	}
	return &CommandQueue{ch: make(chan Command, buffer)}
}

// Push enqueues cmd, blocking if the queue is full.
func (q *CommandQueue) Push(cmd Command) { q.ch <- cmd }

// drainNonBlocking returns every command currently queued without blocking.
func (q *CommandQueue) drainNonBlocking() []Command {
	var out []Command
	for {
		select {
		case cmd := <-q.ch:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

// waitFor blocks until a command of type want arrives, ctx is cancelled, or
// an abort command preempts the wait. Commands of any other type are
// dropped while suspended.
func (q *CommandQueue) waitFor(ctx context.Context, want CommandType) (Command, bool) {
	for {
		select {
		case cmd := <-q.ch:
			if cmd.Type == want || cmd.Type == CommandAbort {
				return cmd, true
			}
		case <-ctx.Done():
			return Command{}, false
		}
	}
}
