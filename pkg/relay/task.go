package relay

import "context"

// Task is a fire-and-forget unit of outbound work whose result can still be
// awaited. Request handlers acknowledge before the task completes; tests
// call Await to synchronize on it.
type Task struct {
	done chan error
}

// Go runs fn in its own goroutine and returns a Task carrying its result.
func Go(fn func() error) *Task {
	t := &Task{done: make(chan error, 1)}
	go func() {
		t.done <- fn()
	}()
	return t
}

// Done returns an immediately completed Task with the given result.
func Done(err error) *Task {
	t := &Task{done: make(chan error, 1)}
	t.done <- err
	return t
}

// Await blocks until the task completes or ctx is done. The task's own
// result takes precedence; once returned it is not replayed.
func (t *Task) Await(ctx context.Context) error {
	if t == nil {
		return nil
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
