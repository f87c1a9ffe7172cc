package registry

import "fmt"

// ResultKind classifies the outcome of invoking a handler.
type ResultKind int

const (
	// NoValue means the handler returned nothing usable as a reply (nil).
	NoValue ResultKind = iota
	// Ok means the handler returned text.
	Ok
	// Failed means the call raised or the result could not be converted.
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case NoValue:
		return "no-value"
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// Result is the outcome of one handler invocation.
type Result struct {
	Kind ResultKind
	Text string
	Err  error
}

// Text returns an Ok result carrying s.
func Text(s string) Result {
	return Result{Kind: Ok, Text: s}
}

// Nothing returns a NoValue result.
func Nothing() Result {
	return Result{Kind: NoValue}
}

// Failure returns a Failed result carrying err.
func Failure(err error) Result {
	return Result{Kind: Failed, Err: err}
}

// Failuref returns a Failed result with a formatted reason.
func Failuref(format string, args ...interface{}) Result {
	return Failure(fmt.Errorf(format, args...))
}

// Reply returns the text to hand back on a synchronous channel: the result
// text for Ok, "" otherwise.
func (r Result) Reply() string {
	if r.Kind == Ok {
		return r.Text
	}
	return ""
}
