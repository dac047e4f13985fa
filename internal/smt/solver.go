package smt

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrUnsat         = errors.New("unsat")
	ErrUnknown       = errors.New("solver returned unknown")
	ErrSolverProcess = errors.New("solver process failed")
)

const DefaultTimeout = 30 * time.Second

// Backend 求解器后端：返回满足全部约束的一组取值，不可满足时返回 ErrUnsat
type Backend interface {
	Solve(ctx context.Context, f *Formula) (Model, error)
}

// Feasible reports whether the constraints of f are satisfiable.
func Feasible(ctx context.Context, b Backend, f *Formula) (bool, error) {
	_, err := b.Solve(ctx, f)
	if err == nil {
		return true, nil
	}
	if errors.Cause(err) == ErrUnsat {
		return false, nil
	}
	return false, err
}

// Process 通过管道与外部 SMT-LIB2 求解器交互，每次求解启动一个进程
type Process struct {
	Path    string
	Args    []string
	Logic   string
	Timeout time.Duration
}

func NewZ3() *Process {
	return &Process{Path: "z3", Args: []string{"-in", "-smt2"}, Logic: "QF_ABV", Timeout: DefaultTimeout}
}

func NewYicesSMT2() *Process {
	return &Process{Path: "yices-smt2", Args: []string{"--incremental"}, Logic: "QF_ABV", Timeout: DefaultTimeout}
}

func NewCVC5() *Process {
	return &Process{Path: "cvc5", Args: []string{"--lang=smt2", "--incremental"}, Logic: "QF_ABV", Timeout: DefaultTimeout}
}

// NewProcess returns the preset for a solver binary name.
func NewProcess(name string) (*Process, error) {
	switch name {
	case "z3":
		return NewZ3(), nil
	case "yices-smt2", "yices":
		return NewYicesSMT2(), nil
	case "cvc5":
		return NewCVC5(), nil
	}
	return nil, errors.Errorf("unknown solver %q", name)
}

func (p *Process) Solve(ctx context.Context, f *Formula) (Model, error) {
	values, err := p.SolveText(ctx, f.SMTLib2())
	if err != nil {
		return nil, err
	}
	return f.Bind(values), nil
}

// SolveText runs one query (declarations and assertions, no check-sat).
func (p *Process) SolveText(ctx context.Context, query string) (map[string]uint64, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "StdinPipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "StdoutPipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(ErrSolverProcess, "start %s: %v", p.Path, err)
	}
	defer func() {
		stdin.Close()
		if err := cmd.Wait(); err != nil {
			log.Debugf("%s exited: %v", p.Path, err)
		}
	}()

	fail := func(err error, what string) error {
		_ = cmd.Process.Kill()
		if ctx.Err() != nil {
			return errors.Wrapf(ErrSolverProcess, "%s: %v", what, ctx.Err())
		}
		return errors.Wrapf(ErrSolverProcess, "%s: %v %s", what, err, strings.TrimSpace(stderr.String()))
	}

	var script strings.Builder
	script.WriteString("(set-option :produce-models true)\n")
	if p.Logic != "" {
		script.WriteString("(set-logic " + p.Logic + ")\n")
	}
	script.WriteString(query)
	script.WriteString("(check-sat)\n")

	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(stdin, script.String())
		written <- err
	}()

	r := bufio.NewReader(stdout)
	status, err := ReadSExpr(r)
	if err != nil {
		return nil, fail(err, "check-sat")
	}
	if err := <-written; err != nil {
		return nil, fail(err, "write query")
	}

	switch status {
	case "sat":
	case "unsat":
		io.WriteString(stdin, "(exit)\n")
		return nil, ErrUnsat
	case "unknown":
		io.WriteString(stdin, "(exit)\n")
		return nil, ErrUnknown
	default:
		return nil, fail(errors.New(status), "check-sat")
	}

	if _, err := io.WriteString(stdin, "(get-model)\n"); err != nil {
		return nil, fail(err, "get-model")
	}
	model, err := ReadSExpr(r)
	if err != nil {
		return nil, fail(err, "get-model")
	}
	if strings.HasPrefix(model, "(error") {
		return nil, fail(errors.New(model), "get-model")
	}
	io.WriteString(stdin, "(exit)\n")
	return ParseModel(model)
}

// ReadSExpr 读取一个完整的 S 表达式或原子，按括号配对分帧而不是按固定长度读
func ReadSExpr(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	c, err := skipSpace(r)
	if err != nil {
		return "", err
	}
	if c != '(' {
		sb.WriteByte(c)
		for {
			c, err := r.ReadByte()
			if err == io.EOF {
				return sb.String(), nil
			}
			if err != nil {
				return "", err
			}
			if isSpace(c) || c == '(' || c == ')' {
				if c == '(' || c == ')' {
					_ = r.UnreadByte()
				}
				return sb.String(), nil
			}
			sb.WriteByte(c)
		}
	}

	depth := 0
	var quote byte
	for {
		sb.WriteByte(c)
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '|':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return sb.String(), nil
			}
		}
		c, err = r.ReadByte()
		if err != nil {
			return "", errors.Wrapf(err, "unterminated s-expression %q", sb.String())
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func skipSpace(r *bufio.Reader) (byte, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !isSpace(c) {
			return c, nil
		}
	}
}
