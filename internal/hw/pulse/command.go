package pulse

// Command is the coalesced state value consumed by the pulse worker:
// direction level plus step frequency. A frequency of 0 means halted.
// Direction and frequency travel as a single value so the worker never
// observes a direction from one command paired with a frequency from
// another.
type Command struct {
	Forward bool
	FreqHz  float64
}

// control messages are discrete one-shots. Unlike state commands they are
// never coalesced: the worker drains them in strict FIFO order.
type control int

const (
	ctrlShutdown control = iota
)

// send delivers a state command with latest-value semantics: if the worker
// has not consumed the previous command yet, it is dropped and replaced.
// Never blocks the caller. The channel is passed in because each worker
// launch gets a fresh one.
func send(ch chan Command, cmd Command) {
	for {
		select {
		case ch <- cmd:
			return
		default:
		}
		// Channel full: evict the stale value and retry. The worker may
		// race us on the receive, which is fine either way.
		select {
		case <-ch:
		default:
		}
	}
}
