package strategy

import (
	"context"
	"strings"

	"bscanner/internal/smt"
	"bscanner/internal/state"
	"bscanner/internal/util"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrNoPolicy = errors.New("no policy for branch")

// Result 到达断点时求得的一组输入
type Result struct {
	Address uint64            `json:"address"`
	Values  map[string]uint64 `json:"values"`
	Trail   []state.Decision  `json:"trail"`
}

// Directed 按地址预先给定每个分支的方向
type Directed struct {
	policy map[uint64]bool

	breakAt  uint64
	hasBreak bool
	backend  smt.Backend
	ctx      context.Context

	result *Result
	err    error
}

func NewDirected(policy map[uint64]bool) *Directed {
	if policy == nil {
		policy = make(map[uint64]bool)
	}
	return &Directed{policy: policy, ctx: context.Background()}
}

// ParsePolicy reads entries of the form ADDR=T or ADDR=F.
func ParsePolicy(entries []string) (map[uint64]bool, error) {
	policy := make(map[uint64]bool, len(entries))
	for _, entry := range entries {
		addr, dir, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, errors.Errorf("bad policy %q, want ADDR=T|F", entry)
		}
		a, ok := util.ParseUint64(addr)
		if !ok {
			return nil, errors.Errorf("bad policy address %q", addr)
		}
		switch strings.ToUpper(strings.TrimSpace(dir)) {
		case "T", "TRUE":
			policy[a] = true
		case "F", "FALSE":
			policy[a] = false
		default:
			return nil, errors.Errorf("bad policy direction %q", dir)
		}
	}
	return policy, nil
}

func (d *Directed) Set(addr uint64, taken bool) { d.policy[addr] = taken }

// BreakAt makes the run stop at addr and solve the path with backend.
func (d *Directed) BreakAt(ctx context.Context, addr uint64, backend smt.Backend) {
	d.ctx, d.breakAt, d.hasBreak, d.backend = ctx, addr, true, backend
}

// Result returns the model found at the break address, if the run got there.
func (d *Directed) Result() (*Result, bool) { return d.result, d.result != nil }

// Err is the failure that made the explorer halt.
func (d *Directed) Err() error { return d.err }

func (d *Directed) Next(ctx *state.Context) Control {
	if !d.hasBreak || ctx.IP() != d.breakAt {
		return Continue
	}
	values, err := ctx.SymbolValues(d.ctx, d.backend)
	if err != nil {
		d.err = errors.Wrapf(err, "break at %#x", d.breakAt)
		return Halt
	}
	d.result = &Result{Address: d.breakAt, Values: values, Trail: ctx.Trail()}
	log.Infof("reached %#x", d.breakAt)
	return Halt
}

func (*Directed) NextJob(*state.Context) (*state.Context, Control, bool) { return nil, Halt, false }

func (d *Directed) RegisterBranch(ctx *state.Context, cond smt.VarRef) Control {
	taken, ok := d.policy[ctx.At()]
	if !ok {
		d.err = errors.Wrapf(ErrNoPolicy, "%#x", ctx.At())
		return Halt
	}
	return follow(ctx, cond, taken)
}
