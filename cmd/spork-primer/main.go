// spork-primer is the target loader started by the primed-spawn path. It is
// not meant to be run by hand.
package main

import (
	"os"
	"runtime"

	"github.com/mattjoyce/spork/internal/loader"
)

// Signal masks are per thread; the thread that applies them must be the one
// that calls exec.
func init() {
	runtime.LockOSThread()
}

func main() {
	os.Exit(loader.Main(os.Args[1:]))
}
