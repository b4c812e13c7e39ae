package detections

// requestState tracks one in-flight inference request. In async mode
// Submit launches the run on its own goroutine and Wait blocks for the
// result; in sync mode Submit runs inline and Wait just reports the
// stored error.
type requestState struct {
	async   bool
	pending chan error
	err     error
}

func (r *requestState) submit(run func() error) {
	if r.async {
		ch := make(chan error, 1)
		r.pending = ch
		go func() { ch <- run() }()
		return
	}
	r.err = run()
}

func (r *requestState) wait() error {
	if r.async && r.pending != nil {
		r.err = <-r.pending
		r.pending = nil
	}
	return r.err
}
