package runlog_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tasklog/pkg/runlog"
)

// taggedLog has two "sort" subgraphs, one of them forked, and a "merge" subgraph
func taggedLog() *runlog.RunLog {
	return &runlog.RunLog{
		ThreadsNumber: 2,
		Duration:      100,
		Tags:          []string{"sort", "merge"},
		Tasks: []runlog.TaskRecord{
			{StartTime: 0, EndTime: 10, ThreadID: 0, Children: []int{1, 2}},
			{StartTime: 10, EndTime: 30, ThreadID: 0, Children: []int{3}},
			{StartTime: 12, EndTime: 40, ThreadID: 1, Children: []int{3}},
			{StartTime: 40, EndTime: 50, ThreadID: 0, Children: []int{4}},
			{StartTime: 50, EndTime: 100, ThreadID: 0, Work: runlog.WorkInfo{Kind: runlog.SequentialWork, Tag: 1, Amount: 50}},
		},
		Subgraphs: []runlog.Subgraph{
			{StartTask: 0, EndTask: 3, Tag: 0, Amount: 60},
			{StartTask: 1, EndTask: 1, Tag: 0, Amount: 20},
			{StartTask: 4, EndTask: 4, Tag: 1, Amount: 50},
		},
	}
}

var _ = Describe("RunLog", func() {
	var log *runlog.RunLog

	BeforeEach(func() {
		log = taggedLog()
	})

	It("walks tasks between two tasks once each", func() {
		Expect(log.TasksBetween(0, 3)).To(ConsistOf(0, 1, 2, 3))
		Expect(log.TasksBetween(4, 4)).To(Equal([]int{4}))
		Expect(log.TasksBetween(9, 9)).To(BeNil())
	})

	It("counts tasks per tag", func() {
		Expect(log.CountTasks()).To(Equal(map[string]int{"sort": 5, "merge": 1}))
	})

	It("sums work and duration per tag and normalises speeds", func() {
		stats := log.TagStats()
		Expect(stats).To(HaveLen(2))
		Expect(stats["sort"].Work).To(Equal(uint64(80)))
		Expect(stats["sort"].Duration).To(Equal(uint64(10 + 20 + 28 + 10 + 20)))
		Expect(stats["merge"].Duration).To(Equal(uint64(50)))
		Expect(stats["merge"].Speed).To(BeNumerically("~", 1.0))
		Expect(stats["sort"].Speed).To(BeNumerically("~", (80.0/88.0)/(50.0/50.0)))
	})

	It("describes every task under every tag it belongs to", func() {
		information := log.TasksInformation()
		Expect(information).To(HaveLen(5))
		for task := range log.Tasks {
			Expect(information[task]).To(HaveKey(runlog.NoTags))
			Expect(information[task][runlog.NoTags].Opacity).To(Equal(1.0))
		}
		Expect(information[2]).To(HaveKey("sort"))
		Expect(information[2]).NotTo(HaveKey("merge"))
		Expect(information[4]["merge"].Opacity).To(BeNumerically("~", 1.0))
		Expect(information[4]["merge"].Label).To(ContainSubstring("counted: 50/50"))
	})

	It("counts steals of forked children", func() {
		Expect(log.Steals()).To(Equal(1))
	})

	It("unifies tags across logs", func() {
		tags := map[string]int{"merge": 0, "scan": 1}
		log.ScanTags(tags)
		Expect(tags).To(Equal(map[string]int{"merge": 0, "scan": 1, "sort": 2}))

		log.UpdateTags(tags)
		Expect(log.Tags).To(Equal([]string{"merge", "scan", "sort"}))
		Expect(log.Subgraphs[0].Tag).To(Equal(2))
		Expect(log.Subgraphs[2].Tag).To(Equal(0))
		Expect(log.Tasks[4].Work.Tag).To(Equal(0))
		Expect(log.TagStats()).To(HaveKey("sort"))
	})

	It("survives a save and load", func() {
		path := filepath.Join(GinkgoT().TempDir(), "run.json")
		Expect(log.Save(path)).To(Succeed())
		loaded, err := runlog.Load(path)
		Expect(err).To(Succeed())
		Expect(loaded).To(Equal(log))
	})
})

var _ = Describe("Load", func() {
	DescribeTable("rejects inconsistent run logs",
		func(content string, problem string) {
			path := filepath.Join(GinkgoT().TempDir(), "run.json")
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

			log, err := runlog.Load(path)
			Expect(log).To(BeNil())
			Expect(err).To(MatchError(runlog.ErrReconstruction))
			Expect(err).To(MatchError(ContainSubstring(problem)))
		},
		Entry("subgraph tag out of range",
			`{"threads_number": 1, "tags": [],
			  "tasks": [{"start_time": 0, "end_time": 1, "thread_id": 0, "work": "NoInformation"}],
			  "subgraphs": [{"start_task": 0, "end_task": 0, "tag": 3, "amount": 1}]}`,
			"subgraph 0 has tag 3"),
		Entry("work tag out of range",
			`{"threads_number": 1, "tags": ["sort"],
			  "tasks": [{"start_time": 0, "end_time": 1, "thread_id": 0, "work": {"IteratorWork": [1, 5]}}]}`,
			"task 0 has work tag 1"),
		Entry("child out of range",
			`{"threads_number": 1, "tags": [],
			  "tasks": [{"start_time": 0, "end_time": 1, "thread_id": 0, "children": [1], "work": "NoInformation"}]}`,
			"task 0 has child 1"),
		Entry("subgraph task out of range",
			`{"threads_number": 1, "tags": ["sort"],
			  "tasks": [{"start_time": 0, "end_time": 1, "thread_id": 0, "work": "NoInformation"}],
			  "subgraphs": [{"start_task": 0, "end_task": 4, "tag": 0, "amount": 1}]}`,
			"subgraph 0 spans tasks 0 to 4"),
		Entry("task ending before its start",
			`{"threads_number": 1, "tags": [],
			  "tasks": [{"start_time": 5, "end_time": 1, "thread_id": 0, "work": "NoInformation"}]}`,
			"task 0 ends at 1 before its start at 5"),
		Entry("thread out of range",
			`{"threads_number": 2, "tags": [],
			  "tasks": [{"start_time": 0, "end_time": 1, "thread_id": 2, "work": "NoInformation"}]}`,
			"task 0 runs on thread 2 of 2"),
	)

	It("reports every problem at once", func() {
		log := taggedLog()
		log.Tasks[0].Children = append(log.Tasks[0].Children, 10)
		log.Subgraphs[1].Tag = -1
		err := log.Validate()
		Expect(err).To(MatchError(runlog.ErrReconstruction))
		Expect(err.(*multierror.Error).Errors).To(HaveLen(2))
	})

	It("accepts consistent run logs", func() {
		Expect(taggedLog().Validate()).To(Succeed())
	})
})

var _ = Describe("WorkInfo", func() {
	DescribeTable("JSON form",
		func(w runlog.WorkInfo, expected string) {
			data, err := json.Marshal(w)
			Expect(err).To(Succeed())
			Expect(data).To(MatchJSON(expected))

			var decoded runlog.WorkInfo
			Expect(json.Unmarshal(data, &decoded)).To(Succeed())
			Expect(decoded).To(Equal(w))
		},
		Entry("no information", runlog.WorkInfo{}, `"NoInformation"`),
		Entry("sequential", runlog.WorkInfo{Kind: runlog.SequentialWork, Tag: 2, Amount: 100}, `{"SequentialWork": [2, 100]}`),
		Entry("iterator", runlog.WorkInfo{Kind: runlog.IteratorWork, Tag: 0, Amount: 3}, `{"IteratorWork": [0, 3]}`),
	)

	DescribeTable("invalid JSON",
		func(input string) {
			var decoded runlog.WorkInfo
			Expect(json.Unmarshal([]byte(input), &decoded)).To(MatchError(runlog.ErrInvalidWork))
		},
		Entry("unknown unit", `"Nothing"`),
		Entry("unknown variant", `{"ParallelWork": [0, 1]}`),
		Entry("two variants", `{"SequentialWork": [0, 1], "IteratorWork": [0, 1]}`),
		Entry("wrong shape", `[1, 2]`),
	)
})
