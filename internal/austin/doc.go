// Package austin supervises the austin sampling profiler.
//
// A Supervisor launches austin in pipe mode, reads the metadata header,
// forwards each sample line to a Handler, reads the footer and classifies
// austin's exit. Cleanup (footer, stderr drain, process wait) runs on every
// path out of a started run, including a missing header and a stop request,
// so austin is never left unreaped.
//
// Wire format on austin's stdout:
//
//	# austin: 3.6.0        header: "# key: value" lines
//	# mode: wall
//	                       one terminator line
//	P42;T7;main;foo 120    opaque sample lines
//	                       empty line or end of stream
//	# duration: 1500000    footer, same shape as the header
//
// Start blocks the calling goroutine only. Run it on its own goroutine and
// stop it with Stop or by cancelling its context; austin then receives
// SIGTERM and, after the graceful timeout, SIGKILL.
//
// Example:
//
//	sup := austin.NewSupervisor(austin.Config{Binary: "austin"}, austin.HandlerFuncs{
//	    Sample: func(line []byte) { fmt.Printf("%s\n", line) },
//	})
//	err := sup.Start(ctx, []string{"-i", "1ms", "python3", "app.py"})
//	switch {
//	case err == nil, errors.Is(err, austin.ErrTerminated):
//	    // finished or stopped
//	default:
//	    return err
//	}
package austin
