package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/petrijr/docroute/pkg/api"
)

// ErrUnknownChain is returned when a chain id has no registered operation.
var ErrUnknownChain = errors.New("unknown chain")

// ChainRegistry maps chain ids to business operations. Operations are
// either Lua scripts or Go functions. A Lua chain sees the execution
// context bindings as locals and returns a table of variables to update;
// returning nothing leaves the variables untouched.
type ChainRegistry struct {
	mu      sync.RWMutex
	env     *LuaEnv
	scripts map[string]string
	funcs   map[string]api.ChainFunc
}

var _ api.ChainExecutor = (*ChainRegistry)(nil)

// NewChainRegistry creates an empty registry.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{
		env:     NewLuaEnv(),
		scripts: map[string]string{},
		funcs:   map[string]api.ChainFunc{},
	}
}

// Register compiles src and binds it to chainID, replacing any previous
// operation with that id.
func (r *ChainRegistry) Register(chainID, src string) error {
	if chainID == "" {
		return errors.New("chain id is required")
	}
	if err := r.env.Validate(src); err != nil {
		return fmt.Errorf("chain %s: %w", chainID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.funcs, chainID)
	r.scripts[chainID] = src
	return nil
}

// RegisterFunc binds a Go operation to chainID.
func (r *ChainRegistry) RegisterFunc(chainID string, fn api.ChainFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scripts, chainID)
	r.funcs[chainID] = fn
}

// IDs returns the registered chain ids in sorted order.
func (r *ChainRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scripts)+len(r.funcs))
	for id := range r.scripts {
		ids = append(ids, id)
	}
	for id := range r.funcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run executes the chain and returns the context variables overlaid with
// the values it produced.
func (r *ChainRegistry) Run(ctx context.Context, chainID string, ec *api.ExecutionContext) (api.Variables, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	src, isScript := r.scripts[chainID]
	fn, isFunc := r.funcs[chainID]
	r.mu.RUnlock()

	switch {
	case isFunc:
		return fn(ctx, chainID, ec)
	case !isScript:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}

	out := ec.Variables.Clone()
	err := r.env.Call(src, ec.Bindings(), func(L *lua.State) error {
		switch L.TypeOf(-1) {
		case lua.TypeNil:
			return nil
		case lua.TypeTable:
			for k, v := range luaTableToMap(L, -1) {
				out[k] = v
			}
			return nil
		default:
			return fmt.Errorf("chain %s returned %s, expected a table", chainID, typeName(L, -1))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
