// Package handlers implements the bridge's methods against host
// capabilities. Each handler decodes its params, performs one host
// operation and returns a result or an error from a single return path.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/vault"
)

// Method names understood by the external controller.
const (
	MethodGenerateDailyNote = "generate-daily-note"
	MethodModifyProperty    = "modify-property"
	MethodQueryDataview     = "query-dataview"
	MethodReadFile          = "read-file"
	MethodListDir           = "list-dir"
	MethodMoveFile          = "move-file"
)

// ErrQueryUnavailable is returned when no query engine is installed.
var ErrQueryUnavailable = errors.New("query engine unavailable")

// Files is the host's file capability.
type Files interface {
	Files() ([]string, error)
	Exists(p string) bool
	ReadText(p string) (string, error)
	ReadBinary(p string) ([]byte, error)
	Rename(from, to string) error
	ReadFrontMatter(p string) (vault.FrontMatter, string, error)
	ProcessFrontMatter(p string, fn func(fm vault.FrontMatter) error) error
}

// CommandRunner executes the host's named built-in commands.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, id string) error
}

// QueryEngine runs a declarative query over indexed vault content.
type QueryEngine interface {
	Query(ctx context.Context, q string) (any, error)
}

// Deps are the host capabilities handlers use. Query may be nil.
type Deps struct {
	Files    Files
	Commands CommandRunner
	Query    QueryEngine
}

// NewRegistry builds the method registry over deps.
func NewRegistry(deps Deps) *dispatcher.Registry {
	h := &handlers{deps: deps}
	return dispatcher.NewRegistry(map[string]dispatcher.Handler{
		MethodGenerateDailyNote: h.generateDailyNote,
		MethodModifyProperty:    h.modifyProperty,
		MethodQueryDataview:     h.queryDataview,
		MethodReadFile:          h.readFile,
		MethodListDir:           h.listDir,
		MethodMoveFile:          h.moveFile,
	})
}

type handlers struct {
	deps Deps
}

// decodeParams unmarshals params into v; absent params leave v zeroed.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func fileMissing(p string) error {
	return dispatcher.Fail("File %s doesn't exist", p)
}

func (h *handlers) generateDailyNote(ctx context.Context, _ json.RawMessage) (any, error) {
	if h.deps.Commands == nil {
		return nil, fmt.Errorf("command %s: %w", vault.CommandDailyNote, vault.ErrCommandUnavailable)
	}
	if err := h.deps.Commands.ExecuteCommand(ctx, vault.CommandDailyNote); err != nil {
		return nil, err
	}
	return nil, nil
}
