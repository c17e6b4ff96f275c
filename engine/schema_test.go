package engine

import "testing"

func TestGetMissingLinks(t *testing.T) {
	schema := &InputSchema{}
	links := []Link{{SinkName: "a"}, {SinkName: "b"}}

	missing := schema.GetMissingLinks(Data{"a": 1}, links)
	if len(missing) != 1 || missing[0] != "b" {
		t.Fatalf("expected [b] missing, got %v", missing)
	}

	if missing := schema.GetMissingLinks(Data{"a": 1, "b": 2}, links); len(missing) != 0 {
		t.Fatalf("expected no missing links, got %v", missing)
	}
}

func TestGetInputDefaults(t *testing.T) {
	schema := &InputSchema{Fields: []FieldSchema{
		{Name: "x", HasDefault: true, Default: 10},
		{Name: "y", HasDefault: true, Default: "base"},
	}}
	out := schema.GetInputDefaults(Data{"y": "override"})
	if out["x"] != 10 {
		t.Fatalf("expected schema default to survive, got %v", out["x"])
	}
	if out["y"] != "override" {
		t.Fatalf("expected node_default to win over schema default, got %v", out["y"])
	}
}

func TestGetMissingInput(t *testing.T) {
	schema := &InputSchema{Fields: []FieldSchema{
		{Name: "req", Required: true},
		{Name: "opt", Required: false},
	}}
	if missing := schema.GetMissingInput(Data{}); len(missing) != 1 || missing[0] != "req" {
		t.Fatalf("expected [req] missing, got %v", missing)
	}
	if missing := schema.GetMissingInput(Data{"req": 1}); len(missing) != 0 {
		t.Fatalf("expected no missing input, got %v", missing)
	}
}

func TestGetMismatchError(t *testing.T) {
	schema := &InputSchema{Fields: []FieldSchema{{Name: "n", Kind: KindInt}}}
	if msg := schema.GetMismatchError(Data{"n": "not an int"}); msg == "" {
		t.Fatal("expected a mismatch error for a string value against KindInt")
	}
	if msg := schema.GetMismatchError(Data{"n": int64(5)}); msg != "" {
		t.Fatalf("expected no mismatch, got %q", msg)
	}
}

func TestConvert(t *testing.T) {
	if v := Convert(3, KindFloat); v != float64(3) {
		t.Fatalf("expected int->float widening, got %#v", v)
	}
	if v := Convert(3.7, KindInt); v != int64(3) {
		t.Fatalf("expected float->int coercion, got %#v", v)
	}
	if v := Convert("kept", KindInt); v != "kept" {
		t.Fatalf("expected non-coercible value to pass through, got %#v", v)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusIncomplete, StatusQueued, true},
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusTerminated, true},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusQueued, false},
		{StatusQueued, StatusIncomplete, false},
		{StatusRunning, StatusQueued, false},
		{StatusQueued, StatusQueued, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNodeExecutionSetStatusRejectsBackwardMove(t *testing.T) {
	ne := &NodeExecution{Status: StatusCompleted}
	if ne.SetStatus(StatusRunning) {
		t.Fatal("expected SetStatus to reject a backward move from a terminal status")
	}
	if ne.CurrentStatus() != StatusCompleted {
		t.Fatalf("status must be unchanged after a rejected transition, got %s", ne.CurrentStatus())
	}
}

func TestNodeExecutionAppendOutputPreservesOrder(t *testing.T) {
	ne := &NodeExecution{}
	ne.AppendOutput("out", 1)
	ne.AppendOutput("out", 2)
	ne.AppendOutput("out", 3)
	got := ne.OutputData["out"]
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected append-only ordered outputs, got %v", got)
	}
}
