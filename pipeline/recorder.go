package pipeline

import "sync"

// Recorder is an in-memory Reporter. It applies the same progress rules as
// the dispatcher, which makes it useful for running a Processor directly.
type Recorder struct {
	mu       sync.Mutex
	progress int
	history  []int
	logs     []string
}

var _ Reporter = (*Recorder)(nil)

// Progress implements Reporter.
func (r *Recorder) Progress(pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pct = max(0, min(100, pct))
	if pct <= r.progress {
		return
	}
	r.progress = pct
	r.history = append(r.history, pct)
}

// Log implements Reporter.
func (r *Recorder) Log(line string) {
	r.mu.Lock()
	r.logs = append(r.logs, line)
	r.mu.Unlock()
}

// Current returns the latest accepted progress value.
func (r *Recorder) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// History returns every accepted progress value in order.
func (r *Recorder) History() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.history...)
}

// Logs returns every logged line in order.
func (r *Recorder) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}
