package blocks

import (
	"context"
	"testing"
	"time"

	"github.com/flowstack/graphexec/engine"
	"github.com/flowstack/graphexec/engine/creds"
	"github.com/flowstack/graphexec/engine/model"
)

func TestLLMBlockReturnsTextOnSuccess(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "hi there"}}}
	b := NewLLMBlock("llm", "api_cred", func(string) model.ChatModel { return mock }, 10)

	ctx := engine.ExecContext{
		Ctx:         context.Background(),
		Credentials: map[string]*creds.Credential{"api_cred": {ID: "c1", Payload: map[string]any{"api_key": "sk-test"}}},
	}
	outs, errs := b.Execute(ctx, engine.Data{"prompt": "hello"})
	got := drain(t, outs, errs, time.Second)

	if len(got) != 1 || got[0].Name != "text" || got[0].Value != "hi there" {
		t.Fatalf("unexpected output: %+v", got)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected exactly one Chat call, got %d", mock.CallCount())
	}
}

func TestLLMBlockEmitsToolCallsWhenPresent(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{
		Text:      "",
		ToolCalls: []model.ToolCall{{Name: "search", Input: map[string]any{"q": "go"}}},
	}}}
	b := NewLLMBlock("llm", "api_cred", func(string) model.ChatModel { return mock }, 0)

	ctx := engine.ExecContext{
		Ctx:         context.Background(),
		Credentials: map[string]*creds.Credential{"api_cred": {ID: "c1", Payload: map[string]any{"api_key": "sk-test"}}},
	}
	outs, errs := b.Execute(ctx, engine.Data{"prompt": "hello"})
	got := drain(t, outs, errs, time.Second)

	if len(got) != 2 {
		t.Fatalf("expected text + tool_calls outputs, got %+v", got)
	}
	var sawToolCalls bool
	for _, o := range got {
		if o.Name == "tool_calls" {
			sawToolCalls = true
		}
	}
	if !sawToolCalls {
		t.Fatal("expected a tool_calls output when the model requested a tool")
	}
}

func TestLLMBlockReportsMissingCredential(t *testing.T) {
	b := NewLLMBlock("llm", "api_cred", func(string) model.ChatModel {
		t.Fatal("newModel should not be invoked when the credential is missing")
		return nil
	}, 0)

	ctx := engine.ExecContext{Ctx: context.Background(), Credentials: map[string]*creds.Credential{}}
	outs, errs := b.Execute(ctx, engine.Data{"prompt": "hello"})

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected a non-nil error for a missing credential")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for missing-credential error")
	}
	// outs must still close even on the error path.
	select {
	case _, ok := <-outs:
		if ok {
			t.Fatal("expected no output on the missing-credential path")
		}
	case <-time.After(time.Second):
		t.Fatal("outs channel never closed")
	}
}

func TestLLMBlockPropagatesChatError(t *testing.T) {
	mock := &model.MockChatModel{Err: context.DeadlineExceeded}
	b := NewLLMBlock("llm", "api_cred", func(string) model.ChatModel { return mock }, 0)

	ctx := engine.ExecContext{
		Ctx:         context.Background(),
		Credentials: map[string]*creds.Credential{"api_cred": {ID: "c1", Payload: map[string]any{"api_key": "sk-test"}}},
	}
	outs, errs := b.Execute(ctx, engine.Data{"prompt": "hello"})

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected the Chat error to propagate")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for propagated error")
	}
	select {
	case _, ok := <-outs:
		if ok {
			t.Fatal("expected no output when Chat fails")
		}
	case <-time.After(time.Second):
		t.Fatal("outs channel never closed")
	}
}

func TestLLMBlockUsageCost(t *testing.T) {
	b := NewLLMBlock("llm", "api_cred", func(string) model.ChatModel { return nil }, 25)
	cost, kind := b.UsageCost(nil)
	if cost != 25 || kind != "llm_call" {
		t.Fatalf("expected (25, llm_call), got (%d, %q)", cost, kind)
	}

	free := NewLLMBlock("llm2", "api_cred", func(string) model.ChatModel { return nil }, 0)
	cost, kind = free.UsageCost(nil)
	if cost != 0 || kind != "" {
		t.Fatalf("expected a disabled cost to report (0, \"\"), got (%d, %q)", cost, kind)
	}
}
