package queueutil

import (
	"fmt"
	"strings"
)

// DefaultNamespace is the key prefix the external controller listens on.
const DefaultNamespace = "obsidian-plugin"

// Keys derives queue keys for a namespace.
type Keys struct {
	Namespace string
}

// NewKeys returns Keys for namespace, falling back to DefaultNamespace.
func NewKeys(namespace string) Keys {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Keys{Namespace: namespace}
}

// TaskQueue builds the task queue key for a tenant, e.g. "obsidian-plugin-tasks:7".
func (k Keys) TaskQueue(userID int) string {
	return fmt.Sprintf("%s-tasks:%d", k.ns(), userID)
}

// ReplyQueue builds the reply queue key for one request.
func (k Keys) ReplyQueue(userID int, requestID string) string {
	return fmt.Sprintf("%s-tasks:%d:%s", k.ns(), userID, requestID)
}

// MonitorQueue builds the monitor queue key for a tenant.
func (k Keys) MonitorQueue(userID int) string {
	return fmt.Sprintf("%s-monitor:%d", k.ns(), userID)
}

func (k Keys) ns() string {
	if k.Namespace == "" {
		return DefaultNamespace
	}
	return k.Namespace
}

// KeyToSubject maps a queue key onto a NATS subject. Colons separate the key
// segments, so they become subject tokens; dots inside a segment would split
// tokens and are replaced with underscores.
func KeyToSubject(key string) string {
	parts := strings.Split(key, ":")
	for i, p := range parts {
		parts[i] = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(p)
	}
	return strings.Join(parts, ".")
}

// KeyPrefix returns the first segment of a queue key ("obsidian-plugin-tasks").
func KeyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
