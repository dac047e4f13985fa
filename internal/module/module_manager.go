package module

import (
	"bscanner/internal/issuse"
	"bscanner/internal/smt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Hook func(*Event) ([]*issuse.Issuse, error)

// ModuleManager 按运算符名组织检测模块的 hook
type ModuleManager struct {
	Modules   []DetectionModule
	PreHooks  map[string][]Hook
	PostHooks map[string][]Hook
}

func NewModuleManager() *ModuleManager {
	return &ModuleManager{
		Modules:   make([]DetectionModule, 0),
		PreHooks:  make(map[string][]Hook),
		PostHooks: make(map[string][]Hook),
	}
}

func (mm *ModuleManager) AddModule(dm DetectionModule) {
	mm.Modules = append(mm.Modules, dm)
	for _, op := range dm.GetPreHooks() {
		mm.PreHooks[op] = append(mm.PreHooks[op], dm.Execute)
	}
	for _, op := range dm.GetPostHooks() {
		mm.PostHooks[op] = append(mm.PostHooks[op], dm.Execute)
	}
}

// Fire runs the hooks registered for the event's operator. Hook failures are logged and
// do not stop execution.
func (mm *ModuleManager) Fire(hooks map[string][]Hook, event *Event) {
	for _, hook := range hooks[event.Token.Kind.String()] {
		if _, err := hook(event); err != nil {
			log.Errorf("hook %s at %#x: %v", event.Token, event.Address, err)
		}
	}
}

func (mm *ModuleManager) RetrieveIssuses() []*issuse.Issuse {
	var result []*issuse.Issuse
	for _, module := range mm.Modules {
		result = append(result, module.GetIssuses()...)
	}
	return result
}

// Default builds the manager with every module; watch lists the addresses WriteWatch guards.
func Default(backend smt.Backend, watch ...uint64) *ModuleManager {
	mm := NewModuleManager()
	mm.AddModule(NewArbitraryJump(backend))
	mm.AddModule(NewSymbolicPointer(backend))
	mm.AddModule(NewDivideByZero(backend))
	if len(watch) > 0 {
		mm.AddModule(NewWriteWatch(backend, watch...))
	}
	return mm
}

func isUnsat(err error) bool {
	return errors.Cause(err) == smt.ErrUnsat
}
