package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"bscanner/internal/arch"
	"bscanner/internal/console"
	"bscanner/internal/engine"
	"bscanner/internal/issuse"
	"bscanner/internal/module"
	"bscanner/internal/report"
	"bscanner/internal/smt"
	"bscanner/internal/smt/yices"
	"bscanner/internal/state"
	"bscanner/internal/store"
	"bscanner/internal/strategy"
	"bscanner/internal/stream"
	"bscanner/internal/util"

	"github.com/davecgh/go-spew/spew"
	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "symbolically execute a program",
	Long:  ``,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return errors.Wrap(runExec(cmd.Context()), "run")
	},
}

var (
	ProgramFile     string
	ArchName        string
	ProfileFile     string
	MemoryModel     string
	ExplorerName    string
	Policy          []string
	BreakAddress    string
	StartAddress    string
	SessionFile     string
	SaveSession     string
	StorePath       string
	SessionName     string
	Symbols         []string
	Constants       []string
	WatchAddresses  []string
	SolverName      string
	SolverTimeout   time.Duration
	SymbolicMemory  bool
	MaxInstructions int
	Prune           bool
	PrintTree       bool
	HistoryFile     string
	ScriptFile      string
)

func init() {
	flags := runCommand.Flags()
	flags.StringVar(&ProgramFile, "program", "", "program description (yaml or json)")
	flags.StringVar(&ArchName, "arch", "", "register profile, defaults to the program's arch")
	flags.StringVar(&ProfileFile, "profile", "", "custom register profile file")
	flags.StringVar(&MemoryModel, "memory", "array", "memory model: array or segmented")
	flags.StringVar(&ExplorerName, "explorer", "dfs", "path explorer: always, dfs, bfs, directed or interactive")
	flags.StringSliceVar(&Policy, "policy", nil, "directed branch decisions ADDR=T|F")
	flags.StringVar(&BreakAddress, "break", "", "directed: stop and solve at this address")
	flags.StringVar(&StartAddress, "start", "", "start address, defaults to the session or first instruction")
	flags.StringVar(&SessionFile, "session", "", "initial state json file")
	flags.StringVar(&SaveSession, "save", "", "write the session back to this file after the run")
	flags.StringVar(&StorePath, "store", "", "session store directory")
	flags.StringVar(&SessionName, "name", "", "session name in the store")
	flags.StringSliceVar(&Symbols, "sym", nil, "registers or memory addresses made symbolic")
	flags.StringSliceVar(&Constants, "const", nil, "KEY=VALUE constant bindings")
	flags.StringSliceVar(&WatchAddresses, "watch", nil, "addresses whose writes are reported")
	flags.StringVar(&SolverName, "solver", "z3", "solver: z3, yices, yices-smt2, cvc5 or none")
	flags.DurationVar(&SolverTimeout, "timeout", smt.DefaultTimeout, "solver timeout per query")
	flags.BoolVar(&SymbolicMemory, "symbolic-memory", false, "allow symbolic memory addresses")
	flags.IntVar(&MaxInstructions, "max-instructions", 0, "stop after this many instructions (0 no limit)")
	flags.BoolVar(&Prune, "prune", false, "dfs/bfs: drop infeasible directions with the solver")
	flags.BoolVar(&PrintTree, "tree", false, "print the explored path tree")
	flags.StringVar(&HistoryFile, "history", "", "interactive: readline history file")
	flags.StringVar(&ScriptFile, "script", "", "interactive: read commands from this file")
}

func loadProfile(programArch string) (*arch.Profile, error) {
	if ProfileFile != "" {
		return arch.LoadFile(ProfileFile)
	}
	name := ArchName
	if name == "" {
		name = programArch
	}
	return arch.Load(name)
}

func newMemory() (state.Memory, error) {
	switch MemoryModel {
	case "array":
		return state.NewArrayMemory(), nil
	case "segmented":
		return state.NewSegmentedMemory(), nil
	}
	return nil, errors.Errorf("unknown memory model %q", MemoryModel)
}

// newBackend returns nil for "none"; done releases the in-process solver.
func newBackend() (smt.Backend, func(), error) {
	done := func() {}
	switch SolverName {
	case "none":
		return nil, done, nil
	case "yices":
		yices2.Init()
		return smt.NewCache(yices.NewSolver()), yices2.Exit, nil
	}
	p, err := smt.NewProcess(SolverName)
	if err != nil {
		return nil, done, err
	}
	p.Timeout = SolverTimeout
	return smt.NewCache(p), done, nil
}

// loadSession 会话文件或者会话库，再叠加命令行上的绑定
func loadSession(table *stream.Table) (*state.InitialState, *store.SessionStore, error) {
	var session *state.InitialState
	var db *store.SessionStore
	var err error
	switch {
	case SessionFile != "":
		if session, err = state.LoadInitialState(SessionFile); err != nil {
			return nil, nil, err
		}
	case StorePath != "":
		if SessionName == "" {
			return nil, nil, errors.New("--store needs --name")
		}
		if db, err = store.NewSessionStore(StorePath); err != nil {
			return nil, nil, err
		}
		session, err = db.Get(SessionName)
		if errors.Cause(err) == store.ErrNotFound {
			log.Infof("new session %s", SessionName)
			session, err = state.NewInitialState(0), nil
		}
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	default:
		session = state.NewInitialState(0)
	}

	if StartAddress != "" {
		start, ok := util.ParseUint64(StartAddress)
		if !ok {
			return nil, db, errors.Errorf("bad start address %q", StartAddress)
		}
		session.StartAddress = start
	} else if session.StartAddress == 0 && table.Len() > 0 {
		session.StartAddress = table.Addresses()[0]
	}
	for _, s := range Symbols {
		session.SetSymbolic(state.Key(s))
	}
	for _, kv := range Constants {
		k, v, ok := strings.Cut(kv, "=")
		value, okv := util.ParseUint64(v)
		if !ok || !okv {
			return nil, db, errors.Errorf("bad constant %q, want KEY=VALUE", kv)
		}
		session.SetConst(state.Key(k), value)
	}
	return session, db, nil
}

func parseAddresses(list []string) ([]uint64, error) {
	addrs := make([]uint64, 0, len(list))
	for _, s := range list {
		a, ok := util.ParseUint64(s)
		if !ok {
			return nil, errors.Errorf("bad address %q", s)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func newLineReader() (console.LineReader, func(), error) {
	if ScriptFile != "" {
		f, err := os.Open(ScriptFile)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open script")
		}
		return console.NewLines(f), func() { f.Close() }, nil
	}
	rl, err := console.NewReadline(HistoryFile)
	if err != nil {
		return nil, nil, err
	}
	return rl, func() { rl.Close() }, nil
}

func newExplorer(ctx context.Context, session *state.InitialState, backend smt.Backend) (strategy.Explorer, func(), error) {
	done := func() {}
	switch ExplorerName {
	case "always":
		return strategy.NewAlways(), done, nil
	case "dfs", "bfs":
		var queue strategy.Strategy = strategy.NewDFS()
		if ExplorerName == "bfs" {
			queue = strategy.NewBFS()
		}
		var pruneWith smt.Backend
		if Prune {
			pruneWith = backend
		}
		return strategy.NewExhaustive(queue, pruneWith).WithContext(ctx), done, nil
	case "directed":
		policy, err := strategy.ParsePolicy(Policy)
		if err != nil {
			return nil, done, err
		}
		d := strategy.NewDirected(policy)
		if BreakAddress != "" {
			addr, ok := util.ParseUint64(BreakAddress)
			if !ok {
				return nil, done, errors.Errorf("bad break address %q", BreakAddress)
			}
			d.BreakAt(ctx, addr, backend)
		}
		return d, done, nil
	case "interactive":
		in, closeIn, err := newLineReader()
		if err != nil {
			return nil, done, err
		}
		x := strategy.NewInteractive(in, os.Stdout, backend).WithContext(ctx)
		x.Session = session
		for _, bp := range session.Breakpoints {
			x.AddBreakpoint(bp)
		}
		x.SingleStep(len(session.Breakpoints) == 0)
		return x, closeIn, nil
	}
	return nil, done, errors.Errorf("unknown explorer %q", ExplorerName)
}

// runResult 一次运行的结果，存入会话库
type runResult struct {
	Stats  engine.Stats     `json:"stats"`
	Issues []*issuse.Issuse `json:"issues"`
	Break  *strategy.Result `json:"break,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func runExec(ctx context.Context) error {
	if ProgramFile == "" {
		return errors.New("--program is required")
	}
	program, err := stream.LoadProgram(ProgramFile)
	if err != nil {
		return err
	}
	table, err := program.Table()
	if err != nil {
		return err
	}
	if program.Image != "" {
		if code, err := program.Code(); err == nil {
			log.Infof("image %s, %d bytes at %#x", util.CodeHash(code), len(code), program.Base)
		}
	}
	profile, err := loadProfile(program.Arch)
	if err != nil {
		return err
	}
	mem, err := newMemory()
	if err != nil {
		return err
	}
	session, db, err := loadSession(table)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	c, err := session.Context(profile, mem)
	if err != nil {
		return err
	}
	backend, closeBackend, err := newBackend()
	if err != nil {
		return err
	}
	defer closeBackend()

	explorer, closeExplorer, err := newExplorer(ctx, session, backend)
	if err != nil {
		return err
	}
	defer closeExplorer()

	watch, err := parseAddresses(WatchAddresses)
	if err != nil {
		return err
	}
	moduleManager := module.Default(backend, watch...)
	for _, m := range moduleManager.Modules {
		if s, ok := m.(interface{ SetContext(context.Context) }); ok {
			s.SetContext(ctx)
		}
	}

	tree := report.NewPathTree()
	e := engine.New(c, table, explorer, engine.Options{
		SymbolicMemory:  SymbolicMemory,
		MaxInstructions: MaxInstructions,
	})
	e.SetModuleManager(moduleManager)
	e.OnPathEnd = func(ctx *state.Context, end engine.PathEnd) {
		tree.Add(ctx.Trail(), fmt.Sprintf("%s at %#x", end, ctx.IP()))
	}

	runErr := e.Run()
	result := &runResult{Stats: e.Stats()}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	issues := moduleManager.RetrieveIssuses()
	for _, is := range issues {
		is.AddCodeInfo(table)
		fmt.Println(is.String())
		result.Issues = append(result.Issues, is)
	}
	if d, ok := explorer.(*strategy.Directed); ok {
		if r, ok := d.Result(); ok {
			fmt.Printf("Reached %#x\n", r.Address)
			report.Values(os.Stdout, r.Values)
			result.Break = r
		}
	}
	if PrintTree {
		fmt.Println(tree.String())
	}
	stats := e.Stats()
	fmt.Printf("%d instructions, %d branches, %d paths, %d pruned, %d issues\n",
		stats.Instructions, stats.Branches, stats.Paths, stats.Pruned, len(issues))
	log.Debugf("final context: %s", spew.Sdump(e.Context().Trail()))

	if SaveSession != "" {
		if err := session.Save(SaveSession); err != nil {
			return err
		}
	}
	if db != nil {
		if err := db.Put(SessionName, session); err != nil {
			return err
		}
		if err := db.PutResult(SessionName, result); err != nil {
			return err
		}
	}
	return runErr
}
