package builder

import (
	"reflect"

	"jabberwocky238/jw238memmgr/datasrc"
	"jabberwocky238/jw238memmgr/segment"
)

// SegmentContext is one generation of loaded data-source clients together
// with the reset parameters of their writable segments. The builder only
// uses it to reach the client list and to reset segments; it is also the
// token that Cancel commands match against.
type SegmentContext interface {
	GenerationID() int
	ClientList(class uint16) (ClientList, error)
	WriterParams(class uint16, dataSource string) (segment.Params, error)
}

// ClientList is the per-class set of data-source clients a Load works on.
type ClientList interface {
	ResetMemorySegment(dataSource string, mode segment.Mode, params segment.Params) error
	ZoneTable(dataSource string) ([]string, error)
	GetCachedWriter(zone, dataSource string) (datasrc.ZoneWriter, error)
}

// ValidateFunc checks a segment. Returning false or an error (or
// panicking) makes the validation fail; it is never propagated.
type ValidateFunc func() (bool, error)

// Command is a request to the builder. The set of commands is closed.
type Command interface {
	command() string
}

// Shutdown stops the builder. It wins over every other command drained in
// the same batch.
type Shutdown struct{}

// Cancel suppresses pending Validate and Load commands whose context is
// Token, and interrupts a Load of that context that is in progress.
type Cancel struct {
	Token any
}

// Validate runs Action in the builder.
type Validate struct {
	Context    any
	Class      uint16
	DataSource string
	Action     ValidateFunc
}

// Load (re)loads Zone of DataSource into its writable segment. An empty
// Zone reloads every zone the data source knows of.
type Load struct {
	Zone       string
	Context    SegmentContext
	Class      uint16
	DataSource string
}

func (Shutdown) command() string { return "shutdown" }
func (Cancel) command() string   { return "cancel" }
func (Validate) command() string { return "validate" }
func (Load) command() string     { return "load" }

// Response reports the completion of a command.
type Response interface {
	response() string
}

// BadCommand is sent once when the builder meets a command it does not
// know; the builder stops afterwards.
type BadCommand struct{}

// CancelCompleted acknowledges a Cancel.
type CancelCompleted struct {
	Token any
}

// ValidateCompleted reports the result of a Validate.
type ValidateCompleted struct {
	Context    any
	Class      uint16
	DataSource string
	OK         bool
}

// LoadCompleted reports the result of a Load that was not cancelled.
type LoadCompleted struct {
	Context    SegmentContext
	Class      uint16
	DataSource string
	OK         bool
}

func (BadCommand) response() string        { return "bad-command" }
func (CancelCompleted) response() string   { return "cancel-completed" }
func (ValidateCompleted) response() string { return "validate-completed" }
func (LoadCompleted) response() string     { return "load-completed" }

// CommandName returns the wire name of cmd, e.g. "load".
func CommandName(cmd Command) string { return cmd.command() }

// ResponseName returns the wire name of resp, e.g. "load-completed".
func ResponseName(resp Response) string { return resp.response() }

// sameToken reports whether a and b are the same cancellation token.
// Tokens compare by identity; values that cannot be compared never match.
func sameToken(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}
