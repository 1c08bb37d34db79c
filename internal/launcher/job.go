package launcher

import "sync"

// Job is a running compression tool. Its outcome is set exactly once.
type Job struct {
	ID   string
	Path string
	Args []string

	once sync.Once
	done chan struct{}
	err  error
}

func newJob(id, path string, args []string) *Job {
	return &Job{
		ID:   id,
		Path: path,
		Args: args,
		done: make(chan struct{}),
	}
}

// Done is closed once the tool has exited and the outcome is known.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the tool exits and returns the outcome.
func (j *Job) Wait() error {
	<-j.done
	return j.err
}

// Err returns the outcome, or nil while the job is still running.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// complete records the outcome. Only the first call has any effect.
func (j *Job) complete(err error) bool {
	completed := false
	j.once.Do(func() {
		j.err = err
		close(j.done)
		completed = true
	})
	return completed
}
