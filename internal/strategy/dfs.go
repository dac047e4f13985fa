package strategy

import (
	"context"

	"bscanner/internal/smt"
	"bscanner/internal/state"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DFS 深度优先：后进先出
type DFS struct {
	jobs []*Job
}

func NewDFS() *DFS {
	return &DFS{
		jobs: make([]*Job, 0),
	}
}

func (dfs *DFS) Size() int {
	return len(dfs.jobs)
}

func (dfs *DFS) HasNext() bool {
	return len(dfs.jobs) > 0
}

func (dfs *DFS) Pop() (*Job, error) {
	if len(dfs.jobs) <= 0 {
		return nil, errors.New("job queue is empty")
	}
	job := dfs.jobs[len(dfs.jobs)-1]
	dfs.jobs = dfs.jobs[:len(dfs.jobs)-1]
	return job, nil
}

func (dfs *DFS) Push(jobs ...*Job) error {
	dfs.jobs = append(dfs.jobs, jobs...)
	return nil
}

// BFS 广度优先：先进先出
type BFS struct {
	jobs []*Job
}

func NewBFS() *BFS {
	return &BFS{
		jobs: make([]*Job, 0),
	}
}

func (bfs *BFS) Size() int {
	return len(bfs.jobs)
}

func (bfs *BFS) HasNext() bool {
	return len(bfs.jobs) > 0
}

func (bfs *BFS) Pop() (*Job, error) {
	if len(bfs.jobs) <= 0 {
		return nil, errors.New("job queue is empty")
	}
	job := bfs.jobs[0]
	bfs.jobs[0] = nil
	bfs.jobs = bfs.jobs[1:]
	return job, nil
}

func (bfs *BFS) Push(jobs ...*Job) error {
	bfs.jobs = append(bfs.jobs, jobs...)
	return nil
}

// Exhaustive 两个方向都走：先走真分支，假分支连同上下文快照入队，按队列顺序恢复
type Exhaustive struct {
	queue   Strategy
	backend smt.Backend
	ctx     context.Context

	pruned int
}

// NewExhaustive wraps a queue. A non-nil backend drops directions that are infeasible under
// the path constraints.
func NewExhaustive(queue Strategy, backend smt.Backend) *Exhaustive {
	return &Exhaustive{queue: queue, backend: backend, ctx: context.Background()}
}

func NewDFSExplorer() *Exhaustive { return NewExhaustive(NewDFS(), nil) }

func NewBFSExplorer() *Exhaustive { return NewExhaustive(NewBFS(), nil) }

// WithContext sets the context feasibility queries run under.
func (e *Exhaustive) WithContext(ctx context.Context) *Exhaustive {
	e.ctx = ctx
	return e
}

func (e *Exhaustive) Pending() int { return e.queue.Size() }

func (e *Exhaustive) Pruned() int { return e.pruned }

func (e *Exhaustive) Next(*state.Context) Control { return Continue }

func (e *Exhaustive) NextJob(*state.Context) (*state.Context, Control, bool) {
	for e.queue.HasNext() {
		job, err := e.queue.Pop()
		if err != nil {
			log.Errorf("Pop: %v", err)
			return nil, Halt, false
		}
		ctrl := follow(job.Ctx, job.Cond, job.Taken)
		if e.feasible(job.Ctx) {
			return job.Ctx, ctrl, true
		}
		e.pruned++
		log.Warnf("drop infeasible path at %#x", job.Ctx.IP())
	}
	return nil, Halt, false
}

func (e *Exhaustive) RegisterBranch(ctx *state.Context, cond smt.VarRef) Control {
	alt := ctx.Clone()
	if err := e.queue.Push(&Job{Ctx: alt, Cond: cond, Taken: false}); err != nil {
		log.Errorf("Push: %v", err)
		return Halt
	}
	ctrl := follow(ctx, cond, true)
	if !e.feasible(ctx) {
		e.pruned++
		log.Debugf("true side infeasible at %#x", ctx.IP())
		return Prune
	}
	return ctrl
}

func (e *Exhaustive) feasible(ctx *state.Context) bool {
	if e.backend == nil {
		return true
	}
	ok, err := smt.Feasible(e.ctx, e.backend, ctx.Formula())
	if err != nil {
		// 求解失败时保留路径
		log.Warnf("feasibility at %#x: %v", ctx.IP(), err)
		return true
	}
	return ok
}
