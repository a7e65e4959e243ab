package upstream

import "strings"

// Transcript accumulates output transcript fragments in arrival order.
type Transcript struct {
	parts []string
}

// Append adds a fragment. Empty fragments are kept.
func (t *Transcript) Append(fragment string) { t.parts = append(t.parts, fragment) }

// Len returns the number of fragments received.
func (t *Transcript) Len() int { return len(t.parts) }

// String joins the fragments. An empty transcript yields "".
func (t *Transcript) String() string { return strings.Join(t.parts, "") }
