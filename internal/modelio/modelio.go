// Package modelio reads route models and Lua chains from YAML files.
package modelio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/docroute/pkg/api"
)

// CurrentVersion is the only supported file version.
const CurrentVersion = 1

var ErrEmptyFile = errors.New("model file defines no routes")

// File is the decoded content of a route model file:
//
//	version: 1
//	chains:
//	  stamp: |
//	    return { stamped = true }
//	routes:
//	  - id: invoice-approval
//	    nodes:
//	      - id: review
//	        start: true
//	        task: true
//	        transitions:
//	          - { id: ok, target: archive, condition: 'button == "approve"' }
//	      - id: archive
//	        stop: true
type File struct {
	Version int               `yaml:"version"`
	Chains  map[string]string `yaml:"chains,omitempty"`
	Routes  []api.RouteModel  `yaml:"routes"`
}

// ChainIDs returns the chain ids in sorted order.
func (f *File) ChainIDs() []string {
	ids := make([]string, 0, len(f.Chains))
	for id := range f.Chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load reads and decodes the model file at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decode parses a model file and validates every route model in it.
// Unknown keys are rejected.
func Decode(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	if f.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported model file version: %d", f.Version)
	}
	if len(f.Routes) == 0 {
		return nil, ErrEmptyFile
	}

	seen := make(map[string]struct{}, len(f.Routes))
	for _, m := range f.Routes {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("%w: %s", api.ErrModelAlreadyExists, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return &f, nil
}

// Encode renders f as YAML.
func Encode(f *File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
