package builder

import "sync"

// Queue is the command/response pair shared between producers and the
// builder. Both lists are guarded by one mutex, and the condition variable
// is signalled on every append.
type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	commands  []Command
	responses []Response
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends commands in order and wakes the builder. Completion is
// observed through the response list and the wake signal.
func (q *Queue) Send(cmds ...Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.commands = append(q.commands, cmds...)
	q.cond.Broadcast()
}

// TakeResponses removes and returns every response produced so far.
func (q *Queue) TakeResponses() []Response {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.responses
	q.responses = nil
	return out
}

// Pending returns the number of commands not yet drained by the builder.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// drain blocks until at least one command is queued, then detaches the
// whole backlog.
func (q *Queue) drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.commands) == 0 {
		q.cond.Wait()
	}
	out := q.commands
	q.commands = nil
	return out
}

// respond appends resp, fires the wake signal and signals waiters, all
// under the lock.
func (q *Queue) respond(resp Response, w Waker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses = append(q.responses, resp)
	if w != nil {
		w.Wake()
	}
	q.cond.Broadcast()
}

// interrupted inspects, without consuming anything, whether a Shutdown or a
// Cancel for token is pending.
func (q *Queue) interrupted(token any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cmd := range q.commands {
		switch c := cmd.(type) {
		case Shutdown:
			return true
		case Cancel:
			if sameToken(c.Token, token) {
				return true
			}
		}
	}
	return false
}
