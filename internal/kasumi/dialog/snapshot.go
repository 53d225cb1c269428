package dialog

// snapshot.go serializes the dialog stack so a conversation survives process
// restarts. Snapshots carry only data: flow IDs, step indices, state maps and
// pending prompts. Step functions live in the process-wide Registry and are
// re-bound on restore. Tokens never appear in snapshots because flows hold
// them as step results and strip them from state before suspending.

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed snapshot.schema.json
var snapshotSchemaSrc string

// snapshotSchema guards against restoring corrupted or hand-edited rows from
// the session store. Compiled once at init.
var snapshotSchema = jsonschema.MustCompileString("snapshot.schema.json", snapshotSchemaSrc)

// FrameSnapshot is the serialized form of one stack frame.
type FrameSnapshot struct {
	FlowID  string         `json:"flow_id"`
	Index   int            `json:"index"`
	State   map[string]any `json:"state,omitempty"`
	Pending *Prompt        `json:"pending,omitempty"`
}

// StackSnapshot is the serialized form of a whole dialog stack, bottom frame
// first.
type StackSnapshot struct {
	Frames []FrameSnapshot `json:"frames"`
}

// Snapshot serializes the stack to JSON.
func (s *Stack) Snapshot() ([]byte, error) {
	snap := StackSnapshot{Frames: make([]FrameSnapshot, 0, len(s.frames))}
	for _, f := range s.frames {
		snap.Frames = append(snap.Frames, FrameSnapshot{
			FlowID:  f.FlowID,
			Index:   f.Index,
			State:   f.State,
			Pending: f.Pending,
		})
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("dialog: marshal stack snapshot: %w", err)
	}
	return data, nil
}

// RestoreStack rebuilds a stack from a snapshot, validating it against the
// snapshot schema first. Callers treat an error as "no usable session" and
// start fresh rather than failing the turn.
func RestoreStack(data []byte) (*Stack, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("dialog: parse stack snapshot: %w", err)
	}
	if err := snapshotSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("dialog: snapshot failed schema validation: %w", err)
	}

	var snap StackSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("dialog: decode stack snapshot: %w", err)
	}

	stack := NewStack()
	for _, fs := range snap.Frames {
		state := State(fs.State)
		if state == nil {
			state = State{}
		}
		stack.push(&Frame{
			FlowID:  fs.FlowID,
			Index:   fs.Index,
			State:   state,
			Pending: fs.Pending,
		})
	}
	return stack, nil
}
