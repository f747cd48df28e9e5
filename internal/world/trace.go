package world

import (
	"fmt"
	"runtime"
	"strings"
)

const maxTraceDepth = 32

// Frame is one call site recorded when an Error was constructed.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Trace is the call context captured at the point of first failure.
type Trace []Frame

// captureTrace records the caller chain starting at the constructor that
// called newError.
func captureTrace() Trace {
	var pcs [maxTraceDepth]uintptr
	// Skip runtime.Callers, captureTrace and newError.
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	trace := make(Trace, 0, n)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			trace = append(trace, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			break
		}
	}
	return trace
}

func (t Trace) String() string {
	var b strings.Builder
	for i, f := range t {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  at %s (%s:%d)", f.Function, f.File, f.Line)
	}
	return b.String()
}
