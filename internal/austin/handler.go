package austin

// Handler receives the events of a supervised run.
//
// Calls are made from the goroutine running Supervisor.Start, one at a
// time and in stream order. A handler that blocks holds up the run.
type Handler interface {
	// OnReady fires once, after a non-empty header has been read.
	// samplerPID is austin itself; targetPID is the profiled program
	// (0 if it could not be resolved).
	OnReady(samplerPID, targetPID int, commandLine []string)

	// OnSample fires once per sample line. The slice is only valid for the
	// duration of the call.
	OnSample(line []byte)

	// OnTerminate fires once per run, after the footer, with header and
	// footer metadata merged. It fires even when the run fails.
	OnTerminate(meta Metadata)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Ready     func(samplerPID, targetPID int, commandLine []string)
	Sample    func(line []byte)
	Terminate func(meta Metadata)
}

func (h HandlerFuncs) OnReady(samplerPID, targetPID int, commandLine []string) {
	if h.Ready != nil {
		h.Ready(samplerPID, targetPID, commandLine)
	}
}

func (h HandlerFuncs) OnSample(line []byte) {
	if h.Sample != nil {
		h.Sample(line)
	}
}

func (h HandlerFuncs) OnTerminate(meta Metadata) {
	if h.Terminate != nil {
		h.Terminate(meta)
	}
}

// MultiHandler fans every event out to each handler in order.
type MultiHandler []Handler

func (m MultiHandler) OnReady(samplerPID, targetPID int, commandLine []string) {
	for _, h := range m {
		h.OnReady(samplerPID, targetPID, commandLine)
	}
}

func (m MultiHandler) OnSample(line []byte) {
	for _, h := range m {
		h.OnSample(line)
	}
}

func (m MultiHandler) OnTerminate(meta Metadata) {
	for _, h := range m {
		h.OnTerminate(meta)
	}
}
