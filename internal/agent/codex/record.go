package codex

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Event type constants for the outer envelope.
const (
	TypeThreadStarted = "thread.started"
	TypeTurnCompleted = "turn.completed"
	TypeTurnFailed    = "turn.failed"
	TypeItemCompleted = "item.completed"
)

// Item type constants for the inner item object.
const (
	ItemTypeAgentMessage = "agent_message"
	ItemTypeFileChange   = "file_change"
)

// Overflow captures and exposes JSON fields not claimed by a struct's known
// set, so tolerant types can log what they didn't recognize without
// failing decode. Grounded in the teacher's codex/record.go pattern.
type Overflow struct {
	Extra map[string]json.RawMessage `json:"-"`
}

func makeSet(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func collectUnknown(raw map[string]json.RawMessage, known map[string]struct{}) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra
}

func warnUnknown(typeName string, extra map[string]json.RawMessage) {
	if len(extra) == 0 {
		return
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slog.Warn("unrecognized codex record fields", "type", typeName, "fields", keys)
}

// Record is a single line from a codex exec --json session. Use the typed
// accessor methods after checking Type.
type Record struct {
	Type string `json:"type"`

	raw json.RawMessage
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	r.Type = probe.Type
	r.raw = append(r.raw[:0], data...)
	return nil
}

func (r *Record) AsThreadStarted() (*ThreadStartedRecord, error) {
	var v ThreadStartedRecord
	if err := json.Unmarshal(r.raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Record) AsTurnCompleted() (*TurnCompletedRecord, error) {
	var v TurnCompletedRecord
	if err := json.Unmarshal(r.raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Record) AsTurnFailed() (*TurnFailedRecord, error) {
	var v TurnFailedRecord
	if err := json.Unmarshal(r.raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Record) AsItem() (*ItemRecord, error) {
	var v ItemRecord
	if err := json.Unmarshal(r.raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ThreadStartedRecord is emitted at session start.
type ThreadStartedRecord struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`

	Overflow
}

var threadStartedKnown = makeSet("type", "thread_id")

func (r *ThreadStartedRecord) UnmarshalJSON(data []byte) error {
	type Alias ThreadStartedRecord
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ThreadStartedRecord: %w", err)
	}
	if err := json.Unmarshal(data, (*Alias)(r)); err != nil {
		return fmt.Errorf("ThreadStartedRecord: %w", err)
	}
	r.Extra = collectUnknown(raw, threadStartedKnown)
	warnUnknown("ThreadStartedRecord", r.Extra)
	return nil
}

// TurnCompletedRecord is emitted when a turn ends successfully.
type TurnCompletedRecord struct {
	Type  string    `json:"type"`
	Usage TurnUsage `json:"usage"`

	Overflow
}

var turnCompletedKnown = makeSet("type", "usage")

func (r *TurnCompletedRecord) UnmarshalJSON(data []byte) error {
	type Alias TurnCompletedRecord
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("TurnCompletedRecord: %w", err)
	}
	if err := json.Unmarshal(data, (*Alias)(r)); err != nil {
		return fmt.Errorf("TurnCompletedRecord: %w", err)
	}
	r.Extra = collectUnknown(raw, turnCompletedKnown)
	warnUnknown("TurnCompletedRecord", r.Extra)
	return nil
}

// TurnUsage contains token counts for a single turn.
type TurnUsage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	OutputTokens      int `json:"output_tokens"`

	Overflow
}

var turnUsageKnown = makeSet("input_tokens", "cached_input_tokens", "output_tokens")

func (u *TurnUsage) UnmarshalJSON(data []byte) error {
	type Alias TurnUsage
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("TurnUsage: %w", err)
	}
	if err := json.Unmarshal(data, (*Alias)(u)); err != nil {
		return fmt.Errorf("TurnUsage: %w", err)
	}
	u.Extra = collectUnknown(raw, turnUsageKnown)
	warnUnknown("TurnUsage", u.Extra)
	return nil
}

// TurnFailedRecord is emitted when a turn errors.
type TurnFailedRecord struct {
	Type  string `json:"type"`
	Error string `json:"error"`

	Overflow
}

var turnFailedKnown = makeSet("type", "error")

func (r *TurnFailedRecord) UnmarshalJSON(data []byte) error {
	type Alias TurnFailedRecord
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("TurnFailedRecord: %w", err)
	}
	if err := json.Unmarshal(data, (*Alias)(r)); err != nil {
		return fmt.Errorf("TurnFailedRecord: %w", err)
	}
	r.Extra = collectUnknown(raw, turnFailedKnown)
	warnUnknown("TurnFailedRecord", r.Extra)
	return nil
}

// ItemRecord is emitted for item.completed events.
type ItemRecord struct {
	Type string   `json:"type"`
	Item ItemData `json:"item"`

	Overflow
}

var itemRecordKnown = makeSet("type", "item")

func (r *ItemRecord) UnmarshalJSON(data []byte) error {
	type Alias ItemRecord
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ItemRecord: %w", err)
	}
	if err := json.Unmarshal(data, (*Alias)(r)); err != nil {
		return fmt.Errorf("ItemRecord: %w", err)
	}
	r.Extra = collectUnknown(raw, itemRecordKnown)
	warnUnknown("ItemRecord", r.Extra)
	return nil
}

// ItemData is the inner item object within item events.
type ItemData struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`

	Text string `json:"text,omitempty"`

	Changes []FileChange `json:"changes,omitempty"`

	Overflow
}

var itemDataKnown = makeSet("id", "type", "status", "text", "changes")

func (d *ItemData) UnmarshalJSON(data []byte) error {
	type Alias ItemData
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ItemData: %w", err)
	}
	if err := json.Unmarshal(data, (*Alias)(d)); err != nil {
		return fmt.Errorf("ItemData: %w", err)
	}
	d.Extra = collectUnknown(raw, itemDataKnown)
	warnUnknown("ItemData("+d.Type+")", d.Extra)
	return nil
}

// FileChange describes a single file change within a file_change item.
type FileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}
