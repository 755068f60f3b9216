package rawlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/omaskery/tasklog/pkg/events"
)

// maxPrealloc caps capacities taken from untrusted length prefixes
const maxPrealloc = 1 << 16

// Encoder writes the little endian binary raw log layout:
//
//	u64 label count, then per label: u64 byte length, bytes
//	u64 thread count, then per thread: u64 event count, events
//
// Every event is a one byte Kind followed by its fields as u64: TaskStart task,time; TaskEnd time;
// Child task; SubgraphStart label; SubgraphEnd and Work label,amount.
type Encoder struct {
	w   *bufio.Writer
	buf [8]byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes logs and flushes the encoder's buffer
func (e *Encoder) Encode(logs *RawLogs) error {
	if err := e.writeU64(uint64(len(logs.Labels))); err != nil {
		return err
	}
	for _, label := range logs.Labels {
		if err := e.writeU64(uint64(len(label))); err != nil {
			return err
		}
		if _, err := e.w.WriteString(label); err != nil {
			return fmt.Errorf("failed to write label: %w", err)
		}
	}

	if err := e.writeU64(uint64(len(logs.ThreadEvents))); err != nil {
		return err
	}
	for thread, log := range logs.ThreadEvents {
		if err := e.writeU64(uint64(len(log))); err != nil {
			return err
		}
		for i, event := range log {
			if err := e.writeEvent(logs, event); err != nil {
				return fmt.Errorf("thread %d event %d: %w", thread, i, err)
			}
		}
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush raw log: %w", err)
	}
	return nil
}

func (e *Encoder) writeEvent(logs *RawLogs, event Event) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownEvent, event.Kind)
	}
	if hasLabel(event.Kind) && event.Label >= LabelID(len(logs.Labels)) {
		return fmt.Errorf("%w: %d of %d", ErrUnknownLabel, event.Label, len(logs.Labels))
	}
	if err := e.w.WriteByte(byte(event.Kind)); err != nil {
		return fmt.Errorf("failed to write event kind: %w", err)
	}

	var fields []uint64
	switch event.Kind {
	case events.KindTaskStart:
		fields = []uint64{uint64(event.Task), uint64(event.Time)}
	case events.KindTaskEnd:
		fields = []uint64{uint64(event.Time)}
	case events.KindChild:
		fields = []uint64{uint64(event.Task)}
	case events.KindSubgraphStart:
		fields = []uint64{uint64(event.Label)}
	case events.KindSubgraphEnd, events.KindWork:
		fields = []uint64{uint64(event.Label), event.Amount}
	}
	for _, f := range fields {
		if err := e.writeU64(f); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeU64(v uint64) error {
	binary.LittleEndian.PutUint64(e.buf[:], v)
	if _, err := e.w.Write(e.buf[:]); err != nil {
		return fmt.Errorf("failed to write raw log: %w", err)
	}
	return nil
}

// Decoder reads the layout written by Encoder, checking every read against the end of the input
type Decoder struct {
	r   *bufio.Reader
	buf [8]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) Decode() (*RawLogs, error) {
	labelCount, err := d.readCount("label count")
	if err != nil {
		return nil, err
	}
	result := &RawLogs{
		Labels: make([]string, 0, min(labelCount, maxPrealloc)),
	}
	for i := 0; i < labelCount; i++ {
		label, err := d.readLabel()
		if err != nil {
			return nil, fmt.Errorf("label %d: %w", i, err)
		}
		result.Labels = append(result.Labels, label)
	}

	threadCount, err := d.readCount("thread count")
	if err != nil {
		return nil, err
	}
	result.ThreadEvents = make([][]Event, 0, min(threadCount, maxPrealloc))
	for thread := 0; thread < threadCount; thread++ {
		eventCount, err := d.readCount("event count")
		if err != nil {
			return nil, fmt.Errorf("thread %d: %w", thread, err)
		}
		log := make([]Event, 0, min(eventCount, maxPrealloc))
		for i := 0; i < eventCount; i++ {
			event, err := d.readEvent(len(result.Labels))
			if err != nil {
				return nil, fmt.Errorf("thread %d event %d: %w", thread, i, err)
			}
			log = append(log, event)
		}
		result.ThreadEvents = append(result.ThreadEvents, log)
	}

	if _, err := d.r.Peek(1); err == nil {
		return nil, ErrTrailingData
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read raw log: %w", err)
	}
	return result, nil
}

func (d *Decoder) readEvent(labelCount int) (Event, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return Event{}, d.wrapReadErr(err, "event kind")
	}
	event := Event{Kind: events.Kind(b)}

	var fields []*uint64
	switch event.Kind {
	case events.KindTaskStart:
		fields = []*uint64{(*uint64)(&event.Task), (*uint64)(&event.Time)}
	case events.KindTaskEnd:
		fields = []*uint64{(*uint64)(&event.Time)}
	case events.KindChild:
		fields = []*uint64{(*uint64)(&event.Task)}
	case events.KindSubgraphStart:
		fields = []*uint64{(*uint64)(&event.Label)}
	case events.KindSubgraphEnd, events.KindWork:
		fields = []*uint64{(*uint64)(&event.Label), &event.Amount}
	default:
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownEvent, b)
	}
	for _, f := range fields {
		if *f, err = d.readU64(event.Kind.String()); err != nil {
			return Event{}, err
		}
	}

	if hasLabel(event.Kind) && event.Label >= LabelID(labelCount) {
		return Event{}, fmt.Errorf("%w: %d of %d", ErrUnknownLabel, event.Label, labelCount)
	}
	return event, nil
}

func (d *Decoder) readLabel() (string, error) {
	length, err := d.readCount("label length")
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, d.r, int64(length)); err != nil {
		return "", d.wrapReadErr(err, "label")
	}
	if !utf8.Valid(buf.Bytes()) {
		return "", ErrInvalidLabel
	}
	return buf.String(), nil
}

// readCount reads a length prefix, rejecting values that cannot index memory
func (d *Decoder) readCount(what string) (int, error) {
	v, err := d.readU64(what)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s %d is too large", ErrDataFormat, what, v)
	}
	return int(v), nil
}

func (d *Decoder) readU64(what string) (uint64, error) {
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		return 0, d.wrapReadErr(err, what)
	}
	return binary.LittleEndian.Uint64(d.buf[:]), nil
}

func (d *Decoder) wrapReadErr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w while reading %s", ErrTruncated, what)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}
