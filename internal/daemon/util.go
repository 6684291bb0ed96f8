package daemon

import (
	"bufio"
	"encoding/json"
	"io"
	"os/exec"
)

func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }

// scanLines reads newline-delimited lines from r, invoking fn for each
// non-empty one until r is exhausted or fn returns false.
func scanLines(r io.Reader, fn func(line []byte) bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		if !fn(cp) {
			return
		}
	}
}

// exitErrorOf extracts a process exit code from an *exec.ExitError.
func exitErrorOf(err error) (int, bool) {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode(), true
	}
	return 0, false
}
