package launcher

import (
	"errors"
	"fmt"
)

// ErrBinaryDirectoryUnresolved is returned before anything is spawned when
// the binary directory lookup produced no directory.
var ErrBinaryDirectoryUnresolved = errors.New("binary directory not resolved")

// NonZeroExitError reports a compression tool that finished with a non-zero
// exit code. Code is -1 when the process was terminated by a signal.
type NonZeroExitError struct {
	Code   int
	Signal string
}

func (e *NonZeroExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("Compression tool exited with error code %d (signal: %s)", e.Code, e.Signal)
	}
	return fmt.Sprintf("Compression tool exited with error code %d", e.Code)
}

// ExitCode returns the exit code carried by err, 0 when err is nil and 1 for
// failures that did not come from the tool itself.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *NonZeroExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}
