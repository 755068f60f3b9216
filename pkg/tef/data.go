package tef

import (
	"encoding/json"
)

// DisplayTimeUnit indicates whether time should be displayed in nano or milliseconds
type DisplayTimeUnit string

const (
	DisplayTimeNs DisplayTimeUnit = "ns"
	DisplayTimeMs DisplayTimeUnit = "ms"
)

// Data is an in-memory representation of a JSON Object Format variant of Trace Event Format file
type Data struct {
	traceEvents     []Event
	displayTimeUnit DisplayTimeUnit
	metadata        map[string]interface{}
}

// Write records the given trace event
func (td *Data) Write(e Event) {
	td.traceEvents = append(td.traceEvents, e)
}

// SetDisplayTimeUnit sets what units timestamps should be displayed in
func (td *Data) SetDisplayTimeUnit(d DisplayTimeUnit) {
	td.displayTimeUnit = d
}

// SetMetadata stores an additional top level value under "otherData"
func (td *Data) SetMetadata(key string, value interface{}) {
	if td.metadata == nil {
		td.metadata = map[string]interface{}{}
	}
	td.metadata[key] = value
}

// Events retrieves the events stored in the file
func (td Data) Events() []Event {
	return td.traceEvents
}

// DisplayTimeUnit gets the desired units to display timestamps from this file
func (td Data) DisplayTimeUnit() DisplayTimeUnit {
	return td.displayTimeUnit
}

// Metadata retrieves additional, non standard key values stored at the top level of this file
func (td Data) Metadata() map[string]interface{} {
	return td.metadata
}

type jsonObjectFile struct {
	TraceEvents     []json.RawMessage      `json:"traceEvents"`
	DisplayTimeUnit string                 `json:"displayTimeUnit,omitempty"`
	Metadata        map[string]interface{} `json:"otherData,omitempty"`
}

type jsonEventPhase struct {
	Phase string `json:"ph"`
}

type jsonEventCore struct {
	jsonEventPhase
	Name       string  `json:"name"`
	Categories string  `json:"cat,omitempty"`
	Timestamp  float64 `json:"ts"`
	ProcessID  *int64  `json:"pid,omitempty"`
	ThreadID   *int64  `json:"tid,omitempty"`
}

type jsonEventWithArgs struct {
	jsonEventCore
	Args map[string]interface{} `json:"args,omitempty"`
}

type jsonCompleteEvent struct {
	jsonEventWithArgs
	Duration float64 `json:"dur"`
}

type jsonFlowEvent struct {
	jsonEventWithArgs
	Id           string `json:"id"`
	BindingPoint string `json:"bp,omitempty"`
}

type jsonMetadataEvent struct {
	jsonEventWithArgs
}
