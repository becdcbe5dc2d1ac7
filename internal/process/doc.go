// Package process launches and reaps the supervised sampler process.
//
// A Handle owns the child and its three standard streams. The streams are
// raw OS pipes rather than exec.Cmd pipe wrappers, so the child can be
// reaped in the background the moment it exits while its buffered output
// is still being read.
//
// Features:
//   - New process group per child, so SIGTERM reaches the whole tree
//   - Graceful Terminate with SIGKILL escalation
//   - Exit codes with signal deaths reported as -signum
//   - Exponential restart backoff helpers for supervisors
//
// Example usage:
//
//	h, err := process.Launch(process.Config{
//	    Name:            "austin",
//	    Binary:          "austin",
//	    Args:            []string{"-P", "-i", "1ms", "python3", "app.py"},
//	    GracefulTimeout: 5 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Terminate(context.Background())
//
//	code, err := h.Wait()
package process
