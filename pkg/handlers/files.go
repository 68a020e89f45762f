package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/vault"
)

// File content encodings reported by read-file.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

type readFileParams struct {
	Filepath string `json:"filepath"`
	Format   string `json:"format"`
}

// FileContent is the read-file result.
type FileContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (h *handlers) readFile(_ context.Context, params json.RawMessage) (any, error) {
	var p readFileParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	switch p.Format {
	case "", "text":
		text, err := h.deps.Files.ReadText(p.Filepath)
		if err != nil {
			return nil, missingOr(err, p.Filepath)
		}
		return &FileContent{Content: text, Encoding: EncodingUTF8}, nil
	case "binary":
		data, err := h.deps.Files.ReadBinary(p.Filepath)
		if err != nil {
			return nil, missingOr(err, p.Filepath)
		}
		return &FileContent{Content: base64.StdEncoding.EncodeToString(data), Encoding: EncodingBase64}, nil
	default:
		return nil, dispatcher.Fail("unsupported format %s", p.Format)
	}
}

type listDirParams struct {
	Path string `json:"path"`
}

// listDir matches by plain string prefix: "Foo" also matches "FooBar.md".
func (h *handlers) listDir(_ context.Context, params json.RawMessage) (any, error) {
	var p listDirParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	files, err := h.deps.Files.Files()
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f, p.Path) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

type moveFileParams struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *handlers) moveFile(_ context.Context, params json.RawMessage) (any, error) {
	var p moveFileParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if !h.deps.Files.Exists(p.From) {
		return nil, fileMissing(p.From)
	}
	if err := h.deps.Files.Rename(p.From, p.To); err != nil {
		return nil, missingOr(err, p.From)
	}
	return nil, nil
}

// missingOr maps vault.ErrNotFound onto the caller-facing failure.
func missingOr(err error, p string) error {
	if errors.Is(err, vault.ErrNotFound) {
		return fileMissing(p)
	}
	return err
}
