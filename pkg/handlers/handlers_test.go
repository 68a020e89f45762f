package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/query"
	"github.com/morezero/vault-bridge/pkg/vault"
)

type fakeQuery struct {
	result any
	err    error
	got    string
}

func (f *fakeQuery) Query(_ context.Context, q string) (any, error) {
	f.got = q
	return f.result, f.err
}

type fakeCommands struct {
	ids []string
	err error
}

func (f *fakeCommands) ExecuteCommand(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return f.err
}

type fixture struct {
	vault    *vault.Vault
	commands *fakeCommands
	query    *fakeQuery
	disp     *dispatcher.Dispatcher
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for p, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	v, err := vault.Open(dir)
	require.NoError(t, err)

	f := &fixture{vault: v, commands: &fakeCommands{}, query: &fakeQuery{}}
	f.disp = dispatcher.NewDispatcher(NewRegistry(Deps{Files: v, Commands: f.commands, Query: f.query}))
	return f
}

func (f *fixture) call(t *testing.T, method string, params any) *dispatcher.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return f.disp.Dispatch(context.Background(), &dispatcher.Request{RequestID: "t", Method: method, Params: raw})
}

// roundTrip returns the result as the controller would decode it.
func roundTrip(t *testing.T, resp *dispatcher.Response) any {
	t.Helper()
	var out dispatcher.Response
	require.NoError(t, json.Unmarshal(dispatcher.EncodeResponse(resp), &out))
	return out.Result
}

func TestNewRegistry_Methods(t *testing.T) {
	reg := NewRegistry(Deps{})
	assert.Equal(t, []string{
		MethodGenerateDailyNote, MethodListDir, MethodModifyProperty,
		MethodMoveFile, MethodQueryDataview, MethodReadFile,
	}, reg.Methods())
}

func TestGenerateDailyNote(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.call(t, MethodGenerateDailyNote, nil)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Result)
	assert.Equal(t, []string{vault.CommandDailyNote}, f.commands.ids)

	f.commands.err = errors.New("command daily-notes: command unavailable")
	resp = f.call(t, MethodGenerateDailyNote, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "Request generate-daily-note failed: command daily-notes: command unavailable", resp.Result)
}

func TestGenerateDailyNote_RealCommands(t *testing.T) {
	f := newFixture(t, nil)
	disp := dispatcher.NewDispatcher(NewRegistry(Deps{
		Files:    f.vault,
		Commands: vault.NewCommands(f.vault, vault.DailyNotes{Folder: "Daily"}),
	}))

	resp := disp.Dispatch(context.Background(), &dispatcher.Request{RequestID: "d", Method: MethodGenerateDailyNote})
	require.True(t, resp.Success, "result: %v", resp.Result)

	files, err := f.vault.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Regexp(t, `^Daily/\d{4}-\d{2}-\d{2}\.md$`, files[0])
}

func TestReadFile(t *testing.T) {
	f := newFixture(t, map[string]string{
		"Notes/a.md": "# héllo\n",
		"blob.bin":   string([]byte{0, 1, 2, 255}),
	})

	resp := f.call(t, MethodReadFile, map[string]string{"filepath": "blob.bin", "format": "binary"})
	require.True(t, resp.Success)
	assert.Equal(t, map[string]any{
		"content":  base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 255}),
		"encoding": "base64",
	}, roundTrip(t, resp))

	resp = f.call(t, MethodReadFile, map[string]string{"filepath": "Notes/a.md", "format": "text"})
	require.True(t, resp.Success)
	assert.Equal(t, map[string]any{"content": "# héllo\n", "encoding": "utf-8"}, roundTrip(t, resp))

	resp = f.call(t, MethodReadFile, map[string]string{"filepath": "Notes/missing.md", "format": "text"})
	assert.False(t, resp.Success)
	assert.Equal(t, "File Notes/missing.md doesn't exist", resp.Result)

	resp = f.call(t, MethodReadFile, map[string]string{"filepath": "Notes/a.md", "format": "pdf"})
	assert.False(t, resp.Success)
	assert.Equal(t, "unsupported format pdf", resp.Result)
}

func TestListDir(t *testing.T) {
	f := newFixture(t, map[string]string{
		"Notes/a.md": "",
		"Notes/b.md": "",
		"Other/c.md": "",
		"NotesX.md":  "",
	})

	resp := f.call(t, MethodListDir, map[string]string{"path": "Notes/"})
	require.True(t, resp.Success)
	assert.Equal(t, []string{"Notes/a.md", "Notes/b.md"}, resp.Result)

	// Plain prefix matching is not segment-aware.
	resp = f.call(t, MethodListDir, map[string]string{"path": "Notes"})
	require.True(t, resp.Success)
	assert.Equal(t, []string{"Notes/a.md", "Notes/b.md", "NotesX.md"}, resp.Result)

	resp = f.call(t, MethodListDir, map[string]string{"path": "Nowhere/"})
	require.True(t, resp.Success)
	assert.Equal(t, []any{}, roundTrip(t, resp))
}

func TestMoveFile(t *testing.T) {
	f := newFixture(t, map[string]string{"Inbox/a.md": "x", "taken.md": "y"})

	resp := f.call(t, MethodMoveFile, map[string]string{"from": "Inbox/a.md", "to": "Archive/a.md"})
	require.True(t, resp.Success, "result: %v", resp.Result)
	assert.Nil(t, resp.Result)
	assert.True(t, f.vault.Exists("Archive/a.md"))
	assert.False(t, f.vault.Exists("Inbox/a.md"))

	resp = f.call(t, MethodMoveFile, map[string]string{"from": "Inbox/a.md", "to": "b.md"})
	assert.False(t, resp.Success)
	assert.Equal(t, "File Inbox/a.md doesn't exist", resp.Result)

	resp = f.call(t, MethodMoveFile, map[string]string{"from": "Archive/a.md", "to": "taken.md"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Result, "Request move-file failed: ")
}

func TestQueryDataview(t *testing.T) {
	f := newFixture(t, nil)

	f.query.result = &query.Result{Type: "table", Headers: []string{"path"}, Values: [][]any{{"a.md"}}}
	resp := f.call(t, MethodQueryDataview, map[string]string{"query": "SELECT path FROM notes"})
	require.True(t, resp.Success)
	assert.Equal(t, "SELECT path FROM notes", f.query.got)
	assert.Equal(t, f.query.result, resp.Result)

	f.query.result = nil
	f.query.err = &query.Error{Message: "near \"FROM\": syntax error"}
	resp = f.call(t, MethodQueryDataview, map[string]string{"query": "SELECT FROM"})
	assert.False(t, resp.Success)
	assert.Equal(t, "near \"FROM\": syntax error", resp.Result)

	f.query.err = errors.New("index locked")
	resp = f.call(t, MethodQueryDataview, map[string]string{"query": "SELECT 1"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Request query-dataview failed: index locked", resp.Result)
}

func TestQueryDataview_Unavailable(t *testing.T) {
	f := newFixture(t, nil)
	disp := dispatcher.NewDispatcher(NewRegistry(Deps{Files: f.vault}))

	resp := disp.Dispatch(context.Background(), &dispatcher.Request{
		RequestID: "q", Method: MethodQueryDataview, Params: json.RawMessage(`{"query":"SELECT 1"}`),
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "Request query-dataview failed: query engine unavailable", resp.Result)
}

func TestInvalidParams(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.disp.Dispatch(context.Background(), &dispatcher.Request{
		RequestID: "p", Method: MethodReadFile, Params: json.RawMessage(`"just a string"`),
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Result, "Request read-file failed: invalid params")
}
