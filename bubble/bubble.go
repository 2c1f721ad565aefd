// Package bubble implements the bubble data model and its config merge
// rules (spec.md §3 and §4.2): a Bubble holds role/type/content/config
// state with write-once id/createdAt and monotone done, and its mutation
// methods return the wire frame (if any) that the mutation should produce —
// this package performs no I/O itself, so it has no dependency on sink or
// session.
package bubble

import (
	"sync"

	"github.com/Chomosuke9/Bubblekit/ids"
)

// Frame kinds emitted by bubble mutations, matching the NDJSON frame
// schema in spec.md §6.2.
const (
	FrameConfig = "config"
	FrameSet    = "set"
	FrameDelta  = "delta"
	FrameDone   = "done"
)

// Frame is the payload a bubble mutation wants written to the stream. The
// caller (session/activectx) hands it to the sink, which stamps streamId and
// seq onto it when it is emitted.
type Frame struct {
	Type     string         `json:"type"`
	BubbleID string         `json:"bubbleId"`
	Content  string         `json:"content,omitempty"`
	Patch    map[string]any `json:"patch,omitempty"`
}

// FrameType reports the frame's wire type, letting the sink's onFrame hook
// drive the controller's timers without importing the bubble package.
func (f *Frame) FrameType() string { return f.Type }

// Record is the plain, exportable snapshot of a bubble used for history
// responses and session export.
type Record struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Config    Config `json:"config"`
	CreatedAt string `json:"createdAt"`
	Done      bool   `json:"done"`
}

// Bubble is the bound, session-owned mutable state of one message
// fragment. Construction happens only through Bind; a zero Bubble is not
// usable.
type Bubble struct {
	mu sync.Mutex

	id        string
	role      string
	kind      string
	content   string
	cfg       Config
	createdAt string
	done      bool
}

// Bind constructs a new bound Bubble with the given id (or a freshly
// generated one if id is empty), recording createdAt once. It does not by
// itself emit anything — ApplyInitialConfig and Set produce the initial
// frames, mirroring spec.md §4.2's description of send().
func Bind(id, role, kind string) *Bubble {
	if id == "" {
		id = ids.New()
	}
	if kind == "" {
		kind = "text"
	}
	return &Bubble{
		id:        id,
		role:      role,
		kind:      kind,
		createdAt: ids.NowISO8601(),
	}
}

// ID returns the bubble's immutable identifier.
func (b *Bubble) ID() string {
	return b.id
}

// Done reports whether the bubble has been finalized.
func (b *Bubble) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// ApplyInitialConfig merges patch into the bubble's empty initial config,
// sets role/type from patch if present (falling back to the bubble's
// current role/type), and returns the config frame to emit. The initial
// config frame always carries {role, type, ...patch} per spec.md §4.2,
// even when patch itself is empty.
func (b *Bubble) ApplyInitialConfig(patch Patch) *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged, effective := Merge(b.cfg, patch)
	b.cfg = merged
	if patch.Role != nil {
		b.role = *patch.Role
	}
	if patch.Type != nil {
		b.kind = *patch.Type
	}

	return &Frame{
		Type:     FrameConfig,
		BubbleID: b.id,
		Patch:    wirePatch(effective, b.role, b.kind, true),
	}
}

// Set replaces content wholesale. Returns ok=false (no frame) if the
// bubble is already done, per the monotone-done invariant.
func (b *Bubble) Set(text string) (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, false
	}
	b.content = text
	return &Frame{Type: FrameSet, BubbleID: b.id, Content: text}, true
}

// Stream appends to content. Returns ok=false (no frame) if the bubble is
// already done.
func (b *Bubble) Stream(text string) (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, false
	}
	b.content += text
	return &Frame{Type: FrameDelta, BubbleID: b.id, Content: text}, true
}

// UpdateConfig validates and merges a config patch, returning the
// effective-patch frame. Returns (nil, true, nil) if the bubble is already
// done (silent no-op — no frame, no error) and (nil, false, err) if the
// patch is rejected outright.
func (b *Bubble) UpdateConfig(patch Patch) (*Frame, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return nil, true, nil
	}

	if err := validateExtra(patch.Extra); err != nil {
		return nil, false, err
	}

	merged, effective := Merge(b.cfg, patch)
	b.cfg = merged
	if patch.Role != nil {
		b.role = *patch.Role
	}
	if patch.Type != nil {
		b.kind = *patch.Type
	}

	if effective.IsEmpty() {
		return nil, true, nil
	}

	return &Frame{
		Type:     FrameConfig,
		BubbleID: b.id,
		Patch:    wirePatch(effective, b.role, b.kind, false),
	}, true, nil
}

// Finalize marks the bubble done and returns the bubble-level done frame.
// A second call is a no-op: already=true, frame=nil.
func (b *Bubble) Finalize() (frame *Frame, already bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, true
	}
	b.done = true
	return &Frame{Type: FrameDone, BubbleID: b.id}, false
}

// Snapshot returns a plain, immutable-by-value record of the bubble's
// current state, for history export.
func (b *Bubble) Snapshot() Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Record{
		ID:        b.id,
		Role:      b.role,
		Type:      b.kind,
		Content:   b.content,
		Config:    cloneConfig(b.cfg),
		CreatedAt: b.createdAt,
		Done:      b.done,
	}
}

// wirePatch renders an effective Patch plus (optionally) role/type into
// the map[string]any shape the "config" frame's patch field carries on
// the wire (spec.md §6.2: "patch includes role/type when they change").
// When includeRoleType is true (the initial send-time frame) role/type are
// always included regardless of whether the patch itself set them.
func wirePatch(p Patch, role, kind string, includeRoleType bool) map[string]any {
	out := map[string]any{}

	if includeRoleType {
		out["role"] = role
		out["type"] = kind
	} else {
		if p.Role != nil {
			out["role"] = *p.Role
		}
		if p.Type != nil {
			out["type"] = *p.Type
		}
	}

	if p.Name != nil {
		out["name"] = *p.Name
	}
	if p.Icon != nil {
		out["icon"] = *p.Icon
	}
	if p.Collapsible != nil {
		out["collapsible"] = *p.Collapsible
	}
	if p.CollapsibleByDefault != nil {
		out["collapsible_by_default"] = *p.CollapsibleByDefault
	}
	if p.CollapsibleTitle != nil {
		out["collapsible_title"] = *p.CollapsibleTitle
	}
	if p.CollapsibleMaxHeight != nil {
		out["collapsible_max_height"] = *p.CollapsibleMaxHeight
	}
	if len(p.Colors) > 0 {
		out["colors"] = p.Colors
	}
	if len(p.Extra) > 0 {
		out["extra"] = p.Extra
	}

	return out
}
