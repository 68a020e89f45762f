package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotMapping is returned when a front matter block is not a YAML mapping.
	ErrNotMapping = errors.New("front matter is not a mapping")
	// ErrNoChange may be returned by a ProcessFrontMatter callback to skip
	// the write. ProcessFrontMatter then returns nil.
	ErrNoChange = errors.New("no change")
)

// FrontMatter is the decoded property bag of a note.
type FrontMatter map[string]any

// ReadFrontMatter returns the decoded front matter of p and the body after
// it. A note without front matter yields an empty bag.
func (v *Vault) ReadFrontMatter(p string) (FrontMatter, string, error) {
	content, err := v.ReadText(p)
	if err != nil {
		return nil, "", err
	}
	fm, _, body, _, err := parseFrontMatter(content)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", p, err)
	}
	return fm, body, nil
}

// ProcessFrontMatter runs fn on the decoded front matter of p and writes the
// result back. The read, fn and the write happen under the vault lock; if
// fn returns an error or changes nothing the file is left untouched.
func (v *Vault) ProcessFrontMatter(p string, fn func(fm FrontMatter) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	full, err := v.resolve(p)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return err
	}

	fm, mapping, body, _, err := parseFrontMatter(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	before, err := mappingValues(mapping)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	if err := fn(fm); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	if reflect.DeepEqual(before, fm) {
		return nil
	}

	out, err := renderFrontMatter(fm, mapping, before, body)
	if err != nil {
		return fmt.Errorf("%s - encode front matter of %s: %w", logPrefix, p, err)
	}
	if out == string(data) {
		return nil
	}
	return writeAtomic(full, []byte(out), info.Mode().Perm())
}

// splitFrontMatter separates a leading "---" delimited block from the body.
func splitFrontMatter(content string) (block, body string, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(content, "---\n"):
		rest = content[4:]
	case strings.HasPrefix(content, "---\r\n"):
		rest = content[5:]
	default:
		return "", content, false
	}

	offset := 0
	for {
		nl := strings.IndexByte(rest[offset:], '\n')
		line := rest[offset:]
		if nl >= 0 {
			line = rest[offset : offset+nl]
		}
		if strings.TrimRight(line, "\r") == "---" {
			if nl < 0 {
				return rest[:offset], "", true
			}
			return rest[:offset], rest[offset+nl+1:], true
		}
		if nl < 0 {
			return "", content, false
		}
		offset += nl + 1
	}
}

// parseFrontMatter decodes the front matter of content. The returned
// mapping node is nil when the note has no (or an empty) block.
func parseFrontMatter(content string) (fm FrontMatter, mapping *yaml.Node, body string, had bool, err error) {
	block, body, had := splitFrontMatter(content)
	if !had || strings.TrimSpace(block) == "" {
		return FrontMatter{}, nil, body, had, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, nil, "", false, fmt.Errorf("invalid front matter: %w", err)
	}
	if len(doc.Content) == 0 {
		return FrontMatter{}, nil, body, had, nil
	}
	mapping = doc.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, nil, "", false, ErrNotMapping
	}
	fm, err = mappingValues(mapping)
	if err != nil {
		return nil, nil, "", false, err
	}
	return fm, mapping, body, had, nil
}

// mappingValues decodes a front matter mapping. Timestamps stay as the
// text written in the note.
func mappingValues(mapping *yaml.Node) (FrontMatter, error) {
	fm := FrontMatter{}
	if mapping == nil {
		return fm, nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		v, err := nodeValue(mapping.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid front matter: %w", err)
		}
		fm[mapping.Content[i].Value] = v
	}
	return fm, nil
}

func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.ScalarNode:
		if n.ShortTag() == "!!timestamp" {
			return n.Value, nil
		}
	case yaml.SequenceNode:
		items := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[n.Content[i].Value] = v
		}
		return m, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// renderFrontMatter writes fm back over body. Keys whose value is unchanged
// since before keep their original nodes so their text survives as written.
// Existing keys keep their order, new keys are appended sorted.
func renderFrontMatter(fm FrontMatter, orig *yaml.Node, before FrontMatter, body string) (string, error) {
	if len(fm) == 0 {
		return body, nil
	}

	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	seen := make(map[string]bool, len(fm))
	if orig != nil {
		out.Style = orig.Style
		for i := 0; i+1 < len(orig.Content); i += 2 {
			keyNode, valNode := orig.Content[i], orig.Content[i+1]
			k := keyNode.Value
			cur, ok := fm[k]
			if !ok || seen[k] {
				continue
			}
			seen[k] = true
			if prev, had := before[k]; !had || !reflect.DeepEqual(prev, cur) {
				fresh := &yaml.Node{}
				if err := fresh.Encode(cur); err != nil {
					return "", err
				}
				valNode = fresh
			}
			out.Content = append(out.Content, keyNode, valNode)
		}
	}

	var added []string
	for k := range fm {
		if !seen[k] {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		val := &yaml.Node{}
		if err := val.Encode(fm[k]); err != nil {
			return "", err
		}
		out.Content = append(out.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, val)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(buf.Bytes())
	sb.WriteString("---\n")
	sb.WriteString(body)
	return sb.String(), nil
}
