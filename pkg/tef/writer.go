package tef

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EventWriter receives events one at a time, typically streaming them to a file
type EventWriter interface {
	Write(e Event) error
	Close() error
}

// WriteJsonObject writes the JSON Object Format variant of a trace file
func WriteJsonObject(w io.Writer, data Data) error {
	jsonFile := jsonObjectFile{
		TraceEvents:     make([]json.RawMessage, 0, len(data.Events())),
		DisplayTimeUnit: string(data.DisplayTimeUnit()),
		Metadata:        data.Metadata(),
	}

	for _, event := range data.Events() {
		msg, err := marshalEvent(event)
		if err != nil {
			return err
		}
		jsonFile.TraceEvents = append(jsonFile.TraceEvents, msg)
	}

	encoder := json.NewEncoder(w)
	err := encoder.Encode(&jsonFile)
	if err != nil {
		return fmt.Errorf("failed to write JSON object file: %w", err)
	}

	return nil
}

// WriteJsonArray writes the JSON Array Format variant of a trace file
func WriteJsonArray(w io.Writer, events []Event) error {
	return writeAll(NewStreamingWriter(nopCloser{w}), events)
}

// writeAll writes every event to w, then closes it
func writeAll(w EventWriter, events []Event) error {
	for _, e := range events {
		if err := w.Write(e); err != nil {
			return err
		}
	}
	return w.Close()
}

// StreamingWriter writes events as a JSON array as they arrive, the array is only terminated on Close,
// which the format tolerates if the process dies before that
type StreamingWriter struct {
	w       io.WriteCloser
	written bool
}

// NewStreamingWriter creates an EventWriter producing the JSON Array Format on w
func NewStreamingWriter(w io.WriteCloser) *StreamingWriter {
	return &StreamingWriter{w: w}
}

func (s *StreamingWriter) Write(e Event) error {
	msg, err := marshalEvent(e)
	if err != nil {
		return err
	}
	separator := ","
	if !s.written {
		separator = "["
	}
	if _, err := io.WriteString(s.w, separator); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}
	if _, err := s.w.Write(msg); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	s.written = true
	return nil
}

func (s *StreamingWriter) Close() error {
	terminator := "]"
	if !s.written {
		terminator = "[]"
	}
	if _, err := io.WriteString(s.w, terminator); err != nil {
		return fmt.Errorf("failed to terminate event array: %w", err)
	}
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("error closing underlying writer: %w", err)
	}
	return nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func marshalEvent(event Event) (json.RawMessage, error) {
	jsonEvent, err := writeJsonEvent(event)
	if err != nil {
		return nil, fmt.Errorf("failed while preparing json event: %w", err)
	}

	msg, err := json.Marshal(jsonEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise json event: %w", err)
	}
	return msg, nil
}

func writeJsonEvent(event Event) (interface{}, error) {
	switch e := event.(type) {
	case *Complete:
		return jsonCompleteEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCore(event),
				Args:          e.Args,
			},
			Duration: e.Duration,
		}, nil

	case *FlowStart:
		return jsonFlowEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCore(event),
				Args:          e.Args,
			},
			Id: e.Id,
		}, nil
	case *FlowFinish:
		bp := ""
		if e.BindingPoint == BindingPointEnclosing {
			bp = "e"
		}
		return jsonFlowEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCore(event),
				Args:          e.Args,
			},
			Id:           e.Id,
			BindingPoint: bp,
		}, nil

	case *MetadataProcessName:
		return jsonMetadataEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCoreWithName(event, string(MetadataKindProcessName)),
				Args: map[string]interface{}{
					"name": e.ProcessName,
				},
			},
		}, nil
	case *MetadataThreadName:
		return jsonMetadataEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCoreWithName(event, string(MetadataKindThreadName)),
				Args: map[string]interface{}{
					"name": e.ThreadName,
				},
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown phase encountered: '%v'", event.Phase())
}

func writeJsonEventCoreWithName(e Event, name string) jsonEventCore {
	core := writeJsonEventCore(e)
	core.Name = name
	return core
}

func writeJsonEventCore(e Event) jsonEventCore {
	core := e.Core()
	return jsonEventCore{
		jsonEventPhase: jsonEventPhase{
			Phase: string(e.Phase()),
		},
		Name:       core.Name,
		Categories: strings.Join(core.Categories, ","),
		Timestamp:  core.Timestamp,
		ProcessID:  core.ProcessID,
		ThreadID:   core.ThreadID,
	}
}
