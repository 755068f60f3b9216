package tef_test

import (
	"encoding/json"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tasklog/pkg/tef"
)

var _ = Describe("WriteJsonObject", func() {
	var writer strings.Builder
	var data tef.Data
	var err error
	var output string

	BeforeEach(func() {
		writer = strings.Builder{}
		data = tef.Data{}
		output = ""
		err = nil
	})

	JustBeforeEach(func() {
		err = tef.WriteJsonObject(&writer, data)
		output = writer.String()
	})

	When("using empty trace data", func() {
		It("generates valid output", func() {
			Expect(err).To(Succeed())
			Expect(output).To(MatchJSON(testJsonObjFile()))
		})
	})

	When("defaults are overriden", func() {
		BeforeEach(func() {
			data.SetDisplayTimeUnit(tef.DisplayTimeNs)
			data.SetMetadata("runs", 3)
		})

		It("generates expected output", func() {
			Expect(err).To(Succeed())
			Expect(output).To(MatchJSON(mustJson(map[string]interface{}{
				"traceEvents":     []interface{}{},
				"displayTimeUnit": "ns",
				"otherData": map[string]interface{}{
					"runs": 3,
				},
			})))
		})
	})

	When("a complete event is written", func() {
		Context("with minimal fields", func() {
			BeforeEach(func() {
				data.Write(&tef.Complete{
					EventWithArgs: tef.EventWithArgs{
						EventCore: tef.EventCore{
							Name:      "event-name",
							Timestamp: 1,
						},
					},
					Duration: 2.5,
				})
			})

			It("generates expected output", func() {
				Expect(err).To(Succeed())
				Expect(output).To(MatchJSON(testJsonObjFile(
					eventJson(tef.PhaseComplete, nil, map[string]interface{}{"dur": 2.5}),
				)))
			})
		})

		Context("with all fields", func() {
			BeforeEach(func() {
				data.Write(&tef.Complete{
					EventWithArgs: tef.EventWithArgs{
						EventCore: tef.EventCore{
							Name:       "event-name",
							Categories: []string{"a", "b"},
							Timestamp:  1,
							ProcessID:  int64Ptr(3),
							ThreadID:   int64Ptr(4),
						},
						Args: map[string]interface{}{"task": 7},
					},
					Duration: 2,
				})
			})

			It("generates expected output", func() {
				Expect(err).To(Succeed())
				Expect(output).To(MatchJSON(testJsonObjFile(
					eventJson(tef.PhaseComplete, map[string]interface{}{"task": 7}, map[string]interface{}{
						"cat": "a,b",
						"pid": 3,
						"tid": 4,
						"dur": 2,
					}),
				)))
			})
		})
	})

	When("a flow is written", func() {
		BeforeEach(func() {
			data.Write(&tef.FlowStart{
				EventWithArgs: tef.EventWithArgs{EventCore: tef.EventCore{Name: "event-name", Timestamp: 1}},
				Id:            "0-1",
			})
			data.Write(&tef.FlowFinish{
				EventWithArgs: tef.EventWithArgs{EventCore: tef.EventCore{Name: "event-name", Timestamp: 1}},
				Id:            "0-1",
				BindingPoint:  tef.BindingPointEnclosing,
			})
			data.Write(&tef.FlowFinish{
				EventWithArgs: tef.EventWithArgs{EventCore: tef.EventCore{Name: "event-name", Timestamp: 1}},
				Id:            "0-2",
				BindingPoint:  tef.BindingPointNext,
			})
		})

		It("only names the enclosing binding point", func() {
			Expect(err).To(Succeed())
			Expect(output).To(MatchJSON(testJsonObjFile(
				eventJson(tef.PhaseFlowStart, nil, map[string]interface{}{"id": "0-1"}),
				eventJson(tef.PhaseFlowFinish, nil, map[string]interface{}{"id": "0-1", "bp": "e"}),
				eventJson(tef.PhaseFlowFinish, nil, map[string]interface{}{"id": "0-2"}),
			)))
		})
	})

	When("metadata events are written", func() {
		BeforeEach(func() {
			data.Write(&tef.MetadataProcessName{
				EventCore:   tef.EventCore{ProcessID: int64Ptr(0)},
				ProcessName: "process",
			})
			data.Write(&tef.MetadataThreadName{
				EventCore:  tef.EventCore{ProcessID: int64Ptr(0), ThreadID: int64Ptr(1)},
				ThreadName: "thread",
			})
		})

		It("uses the metadata kind as name", func() {
			Expect(err).To(Succeed())
			Expect(output).To(MatchJSON(testJsonObjFile(
				mustJson(map[string]interface{}{
					"name": "process_name",
					"ph":   "M",
					"ts":   0,
					"pid":  0,
					"args": map[string]interface{}{"name": "process"},
				}),
				mustJson(map[string]interface{}{
					"name": "thread_name",
					"ph":   "M",
					"ts":   0,
					"pid":  0,
					"tid":  1,
					"args": map[string]interface{}{"name": "thread"},
				}),
			)))
		})
	})
})

var _ = Describe("WriteJsonArray", func() {
	It("writes an empty array", func() {
		var writer strings.Builder
		Expect(tef.WriteJsonArray(&writer, nil)).To(Succeed())
		Expect(writer.String()).To(MatchJSON(testJsonArrFile()))
	})

	It("writes events in order", func() {
		var writer strings.Builder
		Expect(tef.WriteJsonArray(&writer, []tef.Event{
			&tef.Complete{
				EventWithArgs: tef.EventWithArgs{EventCore: tef.EventCore{Name: "event-name", Timestamp: 1}},
				Duration:      1,
			},
			&tef.FlowStart{
				EventWithArgs: tef.EventWithArgs{EventCore: tef.EventCore{Name: "event-name", Timestamp: 1}},
				Id:            "x",
			},
		})).To(Succeed())
		Expect(writer.String()).To(MatchJSON(testJsonArrFile(
			eventJson(tef.PhaseComplete, nil, map[string]interface{}{"dur": 1}),
			eventJson(tef.PhaseFlowStart, nil, map[string]interface{}{"id": "x"}),
		)))
	})
})

type closeRecorder struct {
	strings.Builder
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

var _ = Describe("StreamingWriter", func() {
	It("leaves the array open until closed", func() {
		out := &closeRecorder{}
		w := tef.NewStreamingWriter(out)
		Expect(w.Write(&tef.FlowStart{
			EventWithArgs: tef.EventWithArgs{EventCore: tef.EventCore{Name: "event-name", Timestamp: 1}},
			Id:            "x",
		})).To(Succeed())
		Expect(out.String()).To(HavePrefix("["))
		Expect(out.String()).NotTo(HaveSuffix("]"))
		Expect(out.closed).To(BeFalse())

		Expect(w.Close()).To(Succeed())
		Expect(out.closed).To(BeTrue())
		Expect(out.String()).To(MatchJSON(testJsonArrFile(
			eventJson(tef.PhaseFlowStart, nil, map[string]interface{}{"id": "x"}),
		)))
	})
})

func int64Ptr(v int64) *int64 {
	return &v
}

func testJsonObjFile(events ...string) string {
	return fmt.Sprintf(`{
		"traceEvents": [
			%s
		]
	}`, strings.Join(events, ","))
}

func testJsonArrFile(events ...string) string {
	return fmt.Sprintf("[%s]", strings.Join(events, ","))
}

func mustJson(j map[string]interface{}) string {
	result, err := json.Marshal(j)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal test data to JSON: %v", err))
	}
	return string(result)
}

func eventJson(phase tef.Phase, args map[string]interface{}, extra map[string]interface{}) string {
	j := map[string]interface{}{
		"name": "event-name",
		"ph":   string(phase),
		"ts":   1,
	}
	if args != nil {
		j["args"] = args
	}
	for k, v := range extra {
		j[k] = v
	}
	return mustJson(j)
}
