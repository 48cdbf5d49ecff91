package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/docroute/pkg/api"
)

// modelRegistry holds validated route models by id.
type modelRegistry struct {
	mu   sync.RWMutex
	byID map[string]api.RouteModel
}

func newModelRegistry() *modelRegistry {
	return &modelRegistry{
		byID: make(map[string]api.RouteModel),
	}
}

func (r *modelRegistry) Register(model api.RouteModel) error {
	if err := model.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[model.ID]; exists {
		return fmt.Errorf("%w: %s", api.ErrModelAlreadyExists, model.ID)
	}
	r.byID[model.ID] = cloneModel(model)
	return nil
}

func (r *modelRegistry) Get(id string) (api.RouteModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.byID[id]
	if !ok {
		return api.RouteModel{}, fmt.Errorf("%w: %s", api.ErrModelNotFound, id)
	}
	return cloneModel(model), nil
}

func (r *modelRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func cloneModel(m api.RouteModel) api.RouteModel {
	out := m
	out.Variables = append([]api.VariableDecl(nil), m.Variables...)
	out.Nodes = make([]api.NodeModel, len(m.Nodes))
	for i, n := range m.Nodes {
		n.Variables = append([]api.VariableDecl(nil), n.Variables...)
		n.Transitions = append([]api.TransitionModel(nil), n.Transitions...)
		out.Nodes[i] = n
	}
	return out
}
