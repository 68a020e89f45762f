package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrontMatter(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantBlock string
		wantBody  string
		wantOK    bool
	}{
		{"none", "# Title\n", "", "# Title\n", false},
		{"basic", "---\ntags: [a]\n---\nbody\n", "tags: [a]\n", "body\n", true},
		{"crlf", "---\r\ntitle: x\r\n---\r\nbody", "title: x\r\n", "body", true},
		{"empty block", "---\n---\nbody", "", "body", true},
		{"closing at eof", "---\na: 1\n---", "a: 1\n", "", true},
		{"unterminated", "---\na: 1\nbody", "", "---\na: 1\nbody", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, body, ok := splitFrontMatter(tt.content)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantBlock, block)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestReadFrontMatter(t *testing.T) {
	v := newTestVault(t, map[string]string{
		"a.md":     "---\ntags:\n  - x\n  - y\nstatus: open\ncount: 3\n---\n# A\n",
		"plain.md": "# Plain\n",
		"list.md":  "---\n- a\n- b\n---\n",
	})

	fm, body, err := v.ReadFrontMatter("a.md")
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, fm["tags"])
	assert.Equal(t, "open", fm["status"])
	assert.Equal(t, 3, fm["count"])
	assert.Equal(t, "# A\n", body)

	fm, body, err = v.ReadFrontMatter("plain.md")
	require.NoError(t, err)
	assert.Empty(t, fm)
	assert.Equal(t, "# Plain\n", body)

	_, _, err = v.ReadFrontMatter("list.md")
	assert.ErrorIs(t, err, ErrNotMapping)
}

func TestProcessFrontMatter_PreservesOrderAndBody(t *testing.T) {
	v := newTestVault(t, map[string]string{
		"a.md": "---\nzeta: 1\nalpha: two\n---\n# Body\n\ntext\n",
	})

	err := v.ProcessFrontMatter("a.md", func(fm FrontMatter) error {
		fm["alpha"] = "changed"
		fm["beta"] = []any{"x"}
		return nil
	})
	require.NoError(t, err)

	text, err := v.ReadText("a.md")
	require.NoError(t, err)
	assert.Equal(t, "---\nzeta: 1\nalpha: changed\nbeta:\n  - x\n---\n# Body\n\ntext\n", text)
}

func TestProcessFrontMatter_AddsBlockToPlainNote(t *testing.T) {
	v := newTestVault(t, map[string]string{"p.md": "# Plain\n"})

	require.NoError(t, v.ProcessFrontMatter("p.md", func(fm FrontMatter) error {
		fm["status"] = "done"
		return nil
	}))

	text, err := v.ReadText("p.md")
	require.NoError(t, err)
	assert.Equal(t, "---\nstatus: done\n---\n# Plain\n", text)
}

func TestProcessFrontMatter_RemovesEmptyBlock(t *testing.T) {
	v := newTestVault(t, map[string]string{"p.md": "---\nstatus: done\n---\n# Plain\n"})

	require.NoError(t, v.ProcessFrontMatter("p.md", func(fm FrontMatter) error {
		delete(fm, "status")
		return nil
	}))

	text, err := v.ReadText("p.md")
	require.NoError(t, err)
	assert.Equal(t, "# Plain\n", text)
}

func TestProcessFrontMatter_ErrorLeavesFileUntouched(t *testing.T) {
	original := "---\nstatus: open\n---\nbody\n"
	v := newTestVault(t, map[string]string{"a.md": original})

	boom := errors.New("boom")
	err := v.ProcessFrontMatter("a.md", func(fm FrontMatter) error {
		fm["status"] = "closed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	text, err := v.ReadText("a.md")
	require.NoError(t, err)
	assert.Equal(t, original, text)
}

func TestProcessFrontMatter_MissingFile(t *testing.T) {
	v := newTestVault(t, nil)

	called := false
	err := v.ProcessFrontMatter("nope.md", func(FrontMatter) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
}

func TestProcessFrontMatter_NoChangeSkipsWrite(t *testing.T) {
	// Unusual spacing would be normalised by a rewrite.
	original := "---\nstatus:    open\n---\nbody\n"
	v := newTestVault(t, map[string]string{"a.md": original})

	require.NoError(t, v.ProcessFrontMatter("a.md", func(FrontMatter) error {
		return ErrNoChange
	}))

	text, err := v.ReadText("a.md")
	require.NoError(t, err)
	assert.Equal(t, original, text)
}

func TestProcessFrontMatter_KeepsUntouchedValuesAsWritten(t *testing.T) {
	v := newTestVault(t, map[string]string{
		"a.md": "---\ncreated: 2024-01-05\nflag: yes\ntags: [a]\n---\nbody\n",
	})

	require.NoError(t, v.ProcessFrontMatter("a.md", func(fm FrontMatter) error {
		fm["tags"] = append(fm["tags"].([]any), "b")
		return nil
	}))

	text, err := v.ReadText("a.md")
	require.NoError(t, err)
	assert.Contains(t, text, "\ncreated: 2024-01-05\n")
	assert.Contains(t, text, "\nflag: yes\n")
	assert.NotContains(t, text, "T00:00:00Z")

	fm, body, err := v.ReadFrontMatter("a.md")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, fm["tags"])
	assert.Equal(t, "body\n", body)
}

func TestReadFrontMatter_DateStaysText(t *testing.T) {
	v := newTestVault(t, map[string]string{
		"a.md": "---\ncreated: 2024-01-05\nseen: [2024-02-01]\n---\n",
	})

	fm, _, err := v.ReadFrontMatter("a.md")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", fm["created"])
	assert.Equal(t, []any{"2024-02-01"}, fm["seen"])
}

func TestProcessFrontMatter_UnchangedValuesSkipWrite(t *testing.T) {
	original := "---\nstatus:    open\n---\nbody\n"
	v := newTestVault(t, map[string]string{"a.md": original})

	require.NoError(t, v.ProcessFrontMatter("a.md", func(fm FrontMatter) error {
		fm["status"] = "open"
		return nil
	}))

	text, err := v.ReadText("a.md")
	require.NoError(t, err)
	assert.Equal(t, original, text)
}
