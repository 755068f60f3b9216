// tef provides the subset of the Trace Event Format needed to display run logs in trace viewers
package tef

// Phase is the discriminator for identifying the type of an event in a Trace Event Format file
type Phase string

const (
	PhaseComplete   Phase = "X"
	PhaseFlowStart  Phase = "s"
	PhaseFlowFinish Phase = "f"
	PhaseMetadata   Phase = "M"
)

// Event represents common information to all events
type Event interface {
	// Phase indicates the discriminator for identifying what kind of event this is, primarily for marshaling
	Phase() Phase
	// Core provides mutable access to common event fields
	Core() *EventCore
}

// EventCore represents fields that are common to all events
type EventCore struct {
	// Name to associate with this event, for tasks this is the task index or its work tag
	Name string
	// Categories is an optional collection of tags to help categorise events for filtering in viewers
	Categories []string
	// Timestamp is the event time in microseconds, fractional parts keep nanosecond precision
	Timestamp float64
	// ProcessID is an optional identifier for the ID of the process that output this event
	ProcessID *int64
	// ThreadID is an optional identifier for the worker thread that output this event
	ThreadID *int64
}

// Core provides mutable access to the common fields of events
func (ec *EventCore) Core() *EventCore {
	return ec
}

// EventWithArgs represents events that allow for a map of arbitrary arguments
type EventWithArgs struct {
	EventCore
	// Args are arbitrary values attached to the event, shown by viewers when the event is selected
	Args map[string]interface{}
}

// SetArgs allows for events with arguments to have those arguments updated
func (e *EventWithArgs) SetArgs(args map[string]interface{}) {
	e.Args = args
}

// Complete represents the start and end of work on a given thread
type Complete struct {
	EventWithArgs
	// Duration of the event in microseconds
	Duration float64
}

func (Complete) Phase() Phase { return PhaseComplete }

// FlowStart marks the origin of an arrow between two slices, here a fork or join edge
type FlowStart struct {
	EventWithArgs
	// Id correlates this event with its FlowFinish
	Id string
}

func (FlowStart) Phase() Phase { return PhaseFlowStart }

// BindingPoint indicates whether a FlowFinish event binds to the enclosing slice or the next slice
type BindingPoint int

const (
	// BindingPointEnclosing means the FlowFinish event will bind to the current slice enclosing this event
	BindingPointEnclosing BindingPoint = iota
	// BindingPointNext means the FlowFinish event will bind to the next slice after this event's timestamp
	BindingPointNext
)

// FlowFinish is the destination of an arrow started by a FlowStart with the same Id
type FlowFinish struct {
	EventWithArgs
	// Id correlates this event with its FlowStart
	Id string
	// BindingPoint indicates whether the event binds to the enclosing slice or next slice after this event
	BindingPoint BindingPoint
}

func (FlowFinish) Phase() Phase { return PhaseFlowFinish }

// MetadataKind helps identify common well-known metadata values included in traces
type MetadataKind string

const (
	MetadataKindProcessName MetadataKind = "process_name"
	MetadataKindThreadName  MetadataKind = "thread_name"
)

// MetadataProcessName is a metadata event conveying the name of the process the trace is from
type MetadataProcessName struct {
	EventCore
	ProcessName string
}

func (MetadataProcessName) Phase() Phase { return PhaseMetadata }

// MetadataThreadName is a metadata event conveying the name of a worker thread
type MetadataThreadName struct {
	EventCore
	ThreadName string
}

func (MetadataThreadName) Phase() Phase { return PhaseMetadata }
