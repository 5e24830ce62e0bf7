package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
)

func echoTemplate() TemplateInfo {
	minLen := 1
	return TemplateInfo{
		ID:          "echo",
		Framework:   "reference",
		Name:        "Echo",
		Description: "echoes the last message",
		Version:     "1.0.0",
		Config: []*ConfigField{
			{
				Key:        "systemPrompt",
				Type:       FieldString,
				Optional:   true,
				Validation: &Validation{MinLength: &minLen},
			},
			{
				Key:  "temperature",
				Type: FieldNumber,
			},
		},
	}
}

func TestConfigFieldRoundTrip(t *testing.T) {
	minLen, maxLen := 1, 100
	field := &ConfigField{
		Key:         "toolsets",
		Type:        FieldArray,
		Description: "enabled toolsets",
		Optional:    true,
		Validation:  &Validation{MinLength: &minLen, MaxLength: &maxLen, Enum: []any{"a", "b"}},
		Items: &ConfigField{
			Key:  "item",
			Type: FieldString,
		},
		Properties: map[string]*ConfigField{
			"nested": {Key: "nested", Type: FieldObject, Optional: true, Properties: map[string]*ConfigField{
				"leaf": {Key: "leaf", Type: FieldBoolean},
			}},
		},
	}

	data, err := json.Marshal(field)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var roundTripped ConfigField
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	data2, err := json.Marshal(&roundTripped)
	if err != nil {
		t.Fatalf("second Marshal failed: %v", err)
	}
	if string(data) != string(data2) {
		t.Errorf("round-trip mismatch:\n  got:  %s\n  want: %s", data2, data)
	}
}

func TestConfigFieldOptionalOnlySerializedWhenTrue(t *testing.T) {
	field := &ConfigField{Key: "k", Type: FieldString}
	data, _ := json.Marshal(field)
	if containsKey(data, "optional") {
		t.Errorf("expected no 'optional' key when false, got %s", data)
	}

	field.Optional = true
	data, _ = json.Marshal(field)
	if !containsKey(data, "optional") {
		t.Errorf("expected 'optional' key when true, got %s", data)
	}
}

func containsKey(data []byte, key string) bool {
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	_, ok := m[key]
	return ok
}

func TestValidateConfigurationUnknownTemplate(t *testing.T) {
	r := NewReference(nil, nil)
	ok, errs := r.ValidateConfiguration("missing", "1.0.0", map[string]any{})
	if ok {
		t.Error("expected ok=false for unknown template")
	}
	if len(errs) != 1 {
		t.Errorf("expected exactly one error, got %v", errs)
	}
}

func TestValidateConfigurationCollectsAllErrors(t *testing.T) {
	r := NewReference(nil, []TemplateInfo{echoTemplate()})

	ok, errs := r.ValidateConfiguration("echo", "1.0.0", map[string]any{
		"systemPrompt": "", // violates minLength
		"temperature":  "not-a-number",
	})
	if ok {
		t.Error("expected ok=false")
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 collected errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateConfigurationValid(t *testing.T) {
	r := NewReference(nil, []TemplateInfo{echoTemplate()})

	ok, errs := r.ValidateConfiguration("echo", "1.0.0", map[string]any{
		"systemPrompt": "be helpful",
		"temperature":  0.7,
	})
	if !ok || len(errs) != 0 {
		t.Errorf("expected valid configuration, got ok=%v errs=%v", ok, errs)
	}
}

func TestExecuteUnknownTemplate(t *testing.T) {
	r := NewReference(nil, nil)

	result, err := r.Execute(context.Background(), ExecuteParams{
		TemplateID: "missing",
		MessageID:  "m1",
	})
	if err != nil {
		t.Fatalf("Execute must never return a Go error for a missing template: %v", err)
	}
	if result.Success {
		t.Error("expected Success=false")
	}
	if result.Error == "" {
		t.Error("expected a descriptive error")
	}
	if result.PromptTokens != 0 || result.CompletionTokens != 0 {
		t.Errorf("expected no tokens for a missing template, got %+v", result)
	}
}

func TestExecuteSuccess(t *testing.T) {
	r := NewReference(nil, []TemplateInfo{echoTemplate()})

	result, err := r.Execute(context.Background(), ExecuteParams{
		TemplateID: "echo",
		MessageID:  "m1",
		AgentID:    "a1",
		Messages: []agentmodel.ChatMessage{
			{Role: agentmodel.RoleUser, Content: "hello there"},
		},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected Success=true, got error=%s", result.Error)
	}
	if result.FinishReason != agentmodel.FinishStop {
		t.Errorf("expected FinishStop, got %s", result.FinishReason)
	}
	if result.MessageID != "m1" || result.AgentID != "a1" {
		t.Errorf("expected identifiers to be stamped through, got %+v", result)
	}
}

func TestStreamExecuteOrderingAndTerminalChunk(t *testing.T) {
	r := NewReference(nil, []TemplateInfo{echoTemplate()})

	ch := r.StreamExecute(context.Background(), ExecuteParams{
		TemplateID: "echo",
		MessageID:  "m1",
		Messages: []agentmodel.ChatMessage{
			{Role: agentmodel.RoleUser, Content: "one two three"},
		},
	})

	var chunks []*agentmodel.StreamingChunk
	for c := range ch {
		chunks = append(chunks, c)
	}

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("expected chunk %d to have ChunkIndex=%d, got %d", i, i, c.ChunkIndex)
		}
		if i < len(chunks)-1 && c.FinishReason != nil {
			t.Errorf("expected only the final chunk to carry a FinishReason, chunk %d had %v", i, *c.FinishReason)
		}
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason == nil || *last.FinishReason != agentmodel.FinishStop {
		t.Errorf("expected terminal chunk to have FinishStop, got %v", last.FinishReason)
	}
	if !last.IsStreamEnd() {
		t.Error("expected terminal chunk to set stream_end metadata")
	}
}

func TestStreamExecuteUnknownTemplateYieldsOneErrorChunk(t *testing.T) {
	r := NewReference(nil, nil)

	ch := r.StreamExecute(context.Background(), ExecuteParams{TemplateID: "missing", MessageID: "m1"})

	var chunks []*agentmodel.StreamingChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk for an unknown template, got %d", len(chunks))
	}
	if chunks[0].FinishReason == nil || *chunks[0].FinishReason != agentmodel.FinishError {
		t.Errorf("expected FinishError, got %v", chunks[0].FinishReason)
	}
}

func TestExecuteRespectsTimeout(t *testing.T) {
	r := NewReference(nil, []TemplateInfo{echoTemplate()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	result, err := r.Execute(ctx, ExecuteParams{
		TemplateID: "echo",
		MessageID:  "m1",
		Timeout:    1 * time.Millisecond,
		Messages:   []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Execute must never return a Go error on timeout: %v", err)
	}
	if result.Success {
		t.Error("expected Success=false on timeout")
	}
}

func TestGetSupportedTemplates(t *testing.T) {
	r := NewReference(nil, []TemplateInfo{echoTemplate()})
	templates := r.GetSupportedTemplates()
	if len(templates) != 1 || templates[0].ID != "echo" {
		t.Errorf("expected [echo], got %+v", templates)
	}
}
