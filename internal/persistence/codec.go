package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/petrijr/docroute/pkg/api"
)

// EncodeValue serializes v using encoding/gob. Values stored inside
// interfaces (variable values) must be registered with gob; pkg/api
// registers the kinds it supports.
func EncodeValue[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload produced by EncodeValue. An empty payload
// yields the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

// nodeRecord is the serialized body of a node. State and Version live in
// their own columns / fields so stores can filter and compare on them.
type nodeRecord struct {
	Node api.Node
}

func encodeNode(n *api.Node) ([]byte, error) {
	return EncodeValue(nodeRecord{Node: *n})
}

func decodeNode(data []byte, version int64) (*api.Node, error) {
	rec, err := DecodeValue[nodeRecord](data)
	if err != nil {
		return nil, err
	}
	n := rec.Node
	if n.Variables.Kinds == nil {
		n.Variables = api.NewVariableScope()
	}
	n.Version = version
	return &n, nil
}

// routeHeader is the serialized, node-less part of a route.
type routeHeader struct {
	Variables api.VariableScope
	Documents []api.DocumentRef
}

func encodeHeader(r *api.Route) ([]byte, error) {
	return EncodeValue(routeHeader{Variables: r.Variables, Documents: r.Documents})
}

func applyHeader(r *api.Route, data []byte) error {
	h, err := DecodeValue[routeHeader](data)
	if err != nil {
		return err
	}
	r.Variables = h.Variables
	if r.Variables.Kinds == nil {
		r.Variables = api.NewVariableScope()
	}
	r.Documents = h.Documents
	return nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errorFromString(s string) error {
	if s == "" {
		return nil
	}
	return errors.New(s)
}
