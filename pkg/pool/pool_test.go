package pool_test

import (
	"bytes"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tasklog/pkg/events"
	"github.com/omaskery/tasklog/pkg/executor"
	"github.com/omaskery/tasklog/pkg/forkjoin"
	"github.com/omaskery/tasklog/pkg/pool"
	"github.com/omaskery/tasklog/pkg/rawlog"
	"github.com/omaskery/tasklog/pkg/runlog"
	"github.com/omaskery/tasklog/pkg/stats"
)

// tickingClock returns a clock advancing by one on every reading, starting at 1
func tickingClock() pool.Clock {
	var ticks atomic.Uint64
	return func() events.Timestamp {
		return events.Timestamp(ticks.Add(1))
	}
}

func sum(ctx *pool.Context, values []uint64) uint64 {
	if len(values) == 1 {
		return values[0]
	}
	mid := len(values) / 2
	a, b := pool.Join(ctx,
		func(ctx *pool.Context) uint64 { return sum(ctx, values[:mid]) },
		func(ctx *pool.Context) uint64 { return sum(ctx, values[mid:]) },
	)
	return a + b
}

func noop(*pool.Context) struct{} { return struct{}{} }

func forkTwice(ctx *pool.Context) {
	pool.Join(ctx, noop, noop)
}

func newPool(options ...pool.Option) *pool.ThreadPool {
	GinkgoHelper()
	p, err := pool.New(append([]pool.Option{pool.WithLogger(GinkgoLogr)}, options...)...)
	Expect(err).To(Succeed())
	DeferCleanup(p.Close)
	return p
}

var _ = Describe("ThreadPool", func() {
	It("rejects an empty pool", func() {
		_, err := pool.New(pool.WithNumThreads(0))
		Expect(err).To(MatchError(executor.ErrInvalidWorkerCount))
	})

	It("shares a global pool", func() {
		Expect(pool.Global()).To(BeIdenticalTo(pool.Global()))
		Expect(pool.Global().NumThreads()).To(Equal(runtime.GOMAXPROCS(0)))
	})

	It("returns the result of an unlogged install", func() {
		p := newPool(pool.WithNumThreads(2))
		result := pool.Install(p, func(ctx *pool.Context) uint64 {
			return sum(ctx, []uint64{1, 2, 3, 4, 5})
		})
		Expect(result).To(Equal(uint64(15)))
	})

	When("running on a single thread with a ticking clock", func() {
		var p *pool.ThreadPool

		BeforeEach(func() {
			p = newPool(pool.WithNumThreads(1), pool.WithClock(tickingClock()))
		})

		It("records a join as four tasks", func() {
			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				forkTwice(ctx)
				return struct{}{}
			})
			Expect(err).To(Succeed())

			// ids are allocated continuation first, then both branches
			Expect(cmp.Diff(&runlog.RunLog{
				ThreadsNumber: 1,
				Duration:      7,
				Tasks: []runlog.TaskRecord{
					{StartTime: 0, EndTime: 1, ThreadID: 0, Children: []int{2, 3}},
					{StartTime: 6, EndTime: 7, ThreadID: 0},
					{StartTime: 2, EndTime: 3, ThreadID: 0, Children: []int{1}},
					{StartTime: 4, EndTime: 5, ThreadID: 0, Children: []int{1}},
				},
			}, log, cmpopts.EquateEmpty())).To(BeEmpty())
		})

		It("composes nested computations through the context in the same run", func() {
			nested := func(ctx *pool.Context) uint64 {
				return pool.Subgraph(ctx, "nested", 2, func(ctx *pool.Context) uint64 {
					return sum(ctx, []uint64{3, 4})
				})
			}

			done := make(chan *runlog.RunLog, 1)
			go func() {
				defer GinkgoRecover()
				total, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) uint64 {
					return nested(ctx)
				})
				Expect(err).To(Succeed())
				Expect(total).To(Equal(uint64(7)))
				done <- log
			}()

			var log *runlog.RunLog
			Eventually(done).Should(Receive(&log))
			// root, subgraph opening and closing tasks, then a join
			Expect(log.Tasks).To(HaveLen(3 + 3))
			Expect(log.Tags).To(Equal([]string{"nested"}))
		})

		It("tells joined closures they did not migrate", func() {
			var migrated []bool
			pool.Install(p, func(ctx *pool.Context) struct{} {
				pool.JoinContext(ctx,
					func(_ *pool.Context, fc pool.FnContext) struct{} {
						migrated = append(migrated, fc.Migrated())
						return struct{}{}
					},
					func(_ *pool.Context, fc pool.FnContext) struct{} {
						migrated = append(migrated, fc.Migrated())
						return struct{}{}
					},
				)
				return struct{}{}
			})
			Expect(migrated).To(Equal([]bool{false, false}))
		})

		It("marks a subgraph without forks as sequential work", func() {
			result, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) int {
				return pool.Subgraph(ctx, "sum", 100, func(*pool.Context) int { return 42 })
			})
			Expect(err).To(Succeed())
			Expect(result).To(Equal(42))

			Expect(cmp.Diff(&runlog.RunLog{
				ThreadsNumber: 1,
				Duration:      5,
				Tags:          []string{"sum"},
				Tasks: []runlog.TaskRecord{
					{StartTime: 0, EndTime: 1, Children: []int{1}},
					{StartTime: 2, EndTime: 3, Children: []int{2},
						Work: runlog.WorkInfo{Kind: runlog.SequentialWork, Tag: 0, Amount: 100}},
					{StartTime: 4, EndTime: 5},
				},
				Subgraphs: []runlog.Subgraph{{StartTask: 1, EndTask: 1, Tag: 0, Amount: 100}},
			}, log, cmpopts.EquateEmpty())).To(BeEmpty())
		})

		It("measures custom subgraphs", func() {
			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				return pool.CustomSubgraph(ctx, "measured",
					func() uint64 { return 10 },
					func(start uint64) uint64 { return start + 5 },
					noop,
				)
			})
			Expect(err).To(Succeed())
			Expect(log.Subgraphs).To(Equal([]runlog.Subgraph{{StartTask: 1, EndTask: 1, Tag: 0, Amount: 15}}))
		})

		It("records a subgraph spanning a join", func() {
			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				return pool.Subgraph(ctx, "fork", 8, func(ctx *pool.Context) struct{} {
					forkTwice(ctx)
					return struct{}{}
				})
			})
			Expect(err).To(Succeed())

			Expect(log.Subgraphs).To(HaveLen(1))
			span := log.Subgraphs[0]
			Expect(span.StartTask).NotTo(Equal(span.EndTask))
			Expect(log.TasksBetween(span.StartTask, span.EndTask)).To(HaveLen(4))
			for _, task := range log.Tasks {
				Expect(task.Work.Kind).To(Equal(runlog.NoInformation))
			}
			Expect(log.TagStats()).To(HaveKeyWithValue("fork", runlog.TagStat{Work: 8, Duration: 4, Speed: 1}))
		})

		It("attributes logged work to the active task", func() {
			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				ctx.LogWork("iterations", 10)
				return struct{}{}
			})
			Expect(err).To(Succeed())
			Expect(log.Tasks).To(HaveLen(1))
			Expect(log.Tasks[0].Work).To(Equal(runlog.WorkInfo{Kind: runlog.IteratorWork, Tag: 0, Amount: 10}))
		})
	})

	When("running on several threads", func() {
		var p *pool.ThreadPool

		BeforeEach(func() {
			p = newPool(pool.WithNumThreads(4))
		})

		It("reconstructs a recursive computation", func() {
			values := make([]uint64, 16)
			for i := range values {
				values[i] = uint64(i)
			}
			result, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) uint64 {
				return sum(ctx, values)
			})
			Expect(err).To(Succeed())
			Expect(result).To(Equal(uint64(120)))

			Expect(log.ThreadsNumber).To(Equal(4))
			Expect(log.Validate()).To(Succeed())
			// every join adds two branches and a continuation
			Expect(log.Tasks).To(HaveLen(1 + 3*15))
			for _, task := range log.Tasks {
				Expect(task.StartTime).To(BeNumerically("<=", task.EndTime))
				Expect(task.EndTime).To(BeNumerically("<=", log.Duration))
				Expect(task.ThreadID).To(BeNumerically("<", 4))
			}

			_, err = forkjoin.Build(log)
			Expect(err).To(Succeed())
		})

		It("matches every task start with an end", func() {
			_, _, err := pool.LoggingInstall(p, func(ctx *pool.Context) uint64 {
				return sum(ctx, []uint64{1, 2, 3, 4, 5, 6, 7, 8})
			})
			Expect(err).To(Succeed())

			starts, ends := 0, 0
			for _, log := range p.RawLogs().ThreadEvents {
				for _, e := range log {
					switch e.Kind {
					case events.KindTaskStart:
						starts++
					case events.KindTaskEnd:
						ends++
					}
				}
			}
			Expect(starts).To(Equal(1 + 3*7))
			Expect(ends).To(Equal(starts))
		})

		It("only reports the tasks of the latest logged run", func() {
			_, first, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				forkTwice(ctx)
				return struct{}{}
			})
			Expect(err).To(Succeed())
			Expect(first.Tasks).To(HaveLen(4))

			pool.Install(p, func(ctx *pool.Context) struct{} {
				forkTwice(ctx)
				return struct{}{}
			})

			_, second, err := pool.LoggingInstall(p, noop)
			Expect(err).To(Succeed())
			Expect(second.Tasks).To(HaveLen(1))
		})

		It("records scoped spawns", func() {
			var spawned atomic.Int32
			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				ctx.Scope(func(s *pool.Scope) {
					for i := 0; i < 3; i++ {
						s.Spawn(func(*pool.Scope) {
							spawned.Add(1)
						})
					}
				})
				return struct{}{}
			})
			Expect(err).To(Succeed())
			Expect(spawned.Load()).To(BeEquivalentTo(3))

			// root, scope task and continuation, then a spawned task and a sequel per spawn
			Expect(log.Tasks).To(HaveLen(3 + 2*3))
			Expect(log.Tasks[0].Children).To(Equal([]int{1}))
			fathers := 0
			for _, task := range log.Tasks {
				for _, child := range task.Children {
					if child == 2 {
						fathers++
					}
				}
			}
			Expect(fathers).To(Equal(4))

			_, err = forkjoin.Build(log)
			Expect(err).To(Succeed())
		})

		It("records nested spawns", func() {
			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				ctx.Scope(func(s *pool.Scope) {
					s.Spawn(func(s *pool.Scope) {
						s.Spawn(func(*pool.Scope) {})
					})
				})
				return struct{}{}
			})
			Expect(err).To(Succeed())
			Expect(log.Tasks).To(HaveLen(3 + 2*2))
		})

		It("propagates panics and recovers for the next run", func() {
			Expect(func() {
				pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
					pool.Join(ctx, noop, func(*pool.Context) struct{} {
						panic("boom")
					})
					return struct{}{}
				})
			}).To(PanicWith("boom"))

			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
				forkTwice(ctx)
				return struct{}{}
			})
			Expect(err).To(Succeed())
			Expect(log.Tasks).To(HaveLen(4))
		})

		It("saves raw logs which reconstruct into the same run", func() {
			_, log, err := pool.LoggingInstall(p, func(ctx *pool.Context) uint64 {
				return sum(ctx, []uint64{1, 2, 3, 4})
			})
			Expect(err).To(Succeed())

			path := filepath.Join(GinkgoT().TempDir(), "run.rlog")
			Expect(p.SaveRawLogs(path)).To(Succeed())

			raw, err := rawlog.Load(path)
			Expect(err).To(Succeed())
			reloaded, err := runlog.Reconstruct(raw)
			Expect(err).To(Succeed())
			Expect(reloaded).To(Equal(log))
		})
	})

	It("saves raw logs on close", func() {
		path := filepath.Join(GinkgoT().TempDir(), "run.rlog"+rawlog.CompressedSuffix)
		p, err := pool.New(pool.WithNumThreads(2), pool.WithLogsFilename(path), pool.WithLogger(GinkgoLogr))
		Expect(err).To(Succeed())

		_, _, err = pool.LoggingInstall(p, func(ctx *pool.Context) struct{} {
			forkTwice(ctx)
			return struct{}{}
		})
		Expect(err).To(Succeed())
		Expect(p.Close()).To(Succeed())

		raw, err := rawlog.Load(path)
		Expect(err).To(Succeed())
		Expect(raw.ThreadEvents).To(HaveLen(2))
		log, err := runlog.Reconstruct(raw)
		Expect(err).To(Succeed())
		Expect(log.Tasks).To(HaveLen(4))
	})
})

var _ = Describe("Comparator", func() {
	var p *pool.ThreadPool

	BeforeEach(func() {
		p = newPool(pool.WithNumThreads(2))
	})

	It("runs every algorithm and sorts runs by duration", func() {
		c := p.Compare().RunsNumber(5).
			AttachAlgorithm("join", forkTwice)
		c = pool.AttachAlgorithmWithSetup(c, "subgraph",
			func() []uint64 { return []uint64{1, 2, 3, 4} },
			func(ctx *pool.Context, values []uint64) {
				pool.Subgraph(ctx, "sum", uint64(len(values)), func(ctx *pool.Context) uint64 {
					return sum(ctx, values)
				})
			},
		)
		Expect(c.Err()).To(Succeed())
		Expect(c.Labels()).To(Equal([]string{"join", "subgraph"}))

		Expect(c.Logs()).To(HaveLen(2))
		for _, runs := range c.Logs() {
			Expect(runs).To(HaveLen(5))
			for i := 1; i < len(runs); i++ {
				Expect(runs[i-1].Duration).To(BeNumerically("<=", runs[i].Duration))
			}
		}

		s, err := c.Stats()
		Expect(err).To(Succeed())
		Expect(s.MedianTaskCounts()).To(Equal([]int{4, 3 + 3*3}))
		Expect(s.Tags()).To(Equal([]string{"sum"}))

		var summary bytes.Buffer
		Expect(c.WriteSummary(&summary)).To(Succeed())
		Expect(summary.String()).To(ContainSubstring("algorithm"))
		Expect(summary.String()).To(ContainSubstring("sum (work/time/speed)"))
		Expect(summary.String()).To(MatchRegexp(`(?m)^join\s`))
		Expect(summary.String()).To(MatchRegexp(`(?m)^subgraph\s.*4/`))
	})

	It("refuses to run an algorithm zero times", func() {
		c := p.Compare().RunsNumber(0).AttachAlgorithm("join", forkTwice)
		Expect(c.Err()).To(MatchError(stats.ErrNoRuns))
		_, err := c.Stats()
		Expect(err).To(HaveOccurred())
		Expect(c.WriteSummary(&bytes.Buffer{})).NotTo(Succeed())
	})
})
