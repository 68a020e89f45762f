package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/vault"
)

// Property operations accepted by modify-property.
const (
	OpAddToList      = "addToList"
	OpRemoveFromList = "removeFromList"
	OpSetSingleValue = "setSingleValue"
	OpDeleteProperty = "deleteProperty"
	OpGetProperty    = "getProperty"
)

type modifyPropertyParams struct {
	Filepath  string `json:"filepath"`
	Property  string `json:"property"`
	Operation string `json:"operation"`
	Value     any    `json:"value"`
}

func (h *handlers) modifyProperty(_ context.Context, params json.RawMessage) (any, error) {
	var p modifyPropertyParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Property == "" {
		return nil, errors.New("property is required")
	}

	if p.Operation == OpGetProperty {
		fm, _, err := h.deps.Files.ReadFrontMatter(p.Filepath)
		if err != nil {
			return nil, missingOr(err, p.Filepath)
		}
		return fm[p.Property], nil
	}

	var edit func(fm vault.FrontMatter) error
	switch p.Operation {
	case OpAddToList:
		edit = func(fm vault.FrontMatter) error { return addToList(fm, p.Property, p.Value) }
	case OpRemoveFromList:
		edit = func(fm vault.FrontMatter) error { return removeFromList(fm, p.Property, p.Value) }
	case OpSetSingleValue:
		edit = func(fm vault.FrontMatter) error {
			fm[p.Property] = p.Value
			return nil
		}
	case OpDeleteProperty:
		edit = func(fm vault.FrontMatter) error {
			if _, ok := fm[p.Property]; !ok {
				return vault.ErrNoChange
			}
			delete(fm, p.Property)
			return nil
		}
	default:
		return nil, dispatcher.Fail("unsupported operation %s", p.Operation)
	}

	if err := h.deps.Files.ProcessFrontMatter(p.Filepath, edit); err != nil {
		return nil, missingOr(err, p.Filepath)
	}
	return nil, nil
}

// addToList appends value unless an equal element is already present. An
// absent or null property counts as an empty list.
func addToList(fm vault.FrontMatter, property string, value any) error {
	list, err := listProperty(fm, property)
	if err != nil {
		return err
	}
	for _, item := range list {
		if valuesEqual(item, value) {
			return vault.ErrNoChange
		}
	}
	fm[property] = append(list, value)
	return nil
}

// removeFromList drops the first element equal to value. An absent
// property is left alone.
func removeFromList(fm vault.FrontMatter, property string, value any) error {
	if _, ok := fm[property]; !ok {
		return vault.ErrNoChange
	}
	list, err := listProperty(fm, property)
	if err != nil {
		return err
	}
	for i, item := range list {
		if valuesEqual(item, value) {
			out := make([]any, 0, len(list)-1)
			out = append(out, list[:i]...)
			fm[property] = append(out, list[i+1:]...)
			return nil
		}
	}
	return vault.ErrNoChange
}

func listProperty(fm vault.FrontMatter, property string) ([]any, error) {
	switch cur := fm[property].(type) {
	case nil:
		return []any{}, nil
	case []any:
		return cur, nil
	default:
		return nil, dispatcher.Fail("property is not a list")
	}
}

// valuesEqual compares by JSON form, so the YAML int 3 equals the JSON
// number 3.
func valuesEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
