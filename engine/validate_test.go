package engine

import "testing"

type fakeCatalog struct {
	blocks map[string]Block
}

func (c *fakeCatalog) GetBlock(id string) (Block, bool) {
	b, ok := c.blocks[id]
	return b, ok
}

type fakeBlock struct {
	id     string
	name   string
	typ    BlockType
	schema *InputSchema
}

func (b *fakeBlock) ID() string             { return b.id }
func (b *fakeBlock) Name() string           { return b.name }
func (b *fakeBlock) Type() BlockType        { return b.typ }
func (b *fakeBlock) Schema() *InputSchema   { return b.schema }
func (b *fakeBlock) Execute(ExecContext, Data) (<-chan Output, <-chan error) {
	panic("not used in validation tests")
}

func TestValidateExecMissingRequiredField(t *testing.T) {
	block := &fakeBlock{id: "b1", name: "Doubler", typ: BlockStandard, schema: &InputSchema{
		Fields: []FieldSchema{{Name: "n", Kind: KindInt, Required: true}},
	}}
	catalog := &fakeCatalog{blocks: map[string]Block{"b1": block}}
	node := &Node{ID: "n1", BlockID: "b1"}

	_, errMsg := ValidateExec(catalog, node, Data{}, false)
	if errMsg == "" {
		t.Fatal("expected a missing-input error")
	}
}

func TestValidateExecSuccess(t *testing.T) {
	block := &fakeBlock{id: "b1", name: "Doubler", typ: BlockStandard, schema: &InputSchema{
		Fields: []FieldSchema{{Name: "n", Kind: KindInt, Required: true}},
	}}
	catalog := &fakeCatalog{blocks: map[string]Block{"b1": block}}
	node := &Node{ID: "n1", BlockID: "b1"}

	validated, errMsg := ValidateExec(catalog, node, Data{"n": int64(5)}, false)
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if validated.Data["n"] != int64(5) {
		t.Fatalf("expected validated input to carry n=5, got %v", validated.Data)
	}
	if validated.BlockName != "Doubler" {
		t.Fatalf("expected block name Doubler, got %s", validated.BlockName)
	}
}

func TestValidateExecUnknownBlock(t *testing.T) {
	catalog := &fakeCatalog{blocks: map[string]Block{}}
	node := &Node{ID: "n1", BlockID: "missing"}
	_, errMsg := ValidateExec(catalog, node, Data{}, false)
	if errMsg == "" {
		t.Fatal("expected an error for an unresolvable block")
	}
}

func TestValidateExecDefaultsMergeUnderProvidedInput(t *testing.T) {
	block := &fakeBlock{id: "b1", name: "Cfg", typ: BlockStandard, schema: &InputSchema{
		Fields: []FieldSchema{{Name: "mode", HasDefault: true, Default: "fast"}},
	}}
	catalog := &fakeCatalog{blocks: map[string]Block{"b1": block}}
	node := &Node{ID: "n1", BlockID: "b1"}

	validated, errMsg := ValidateExec(catalog, node, Data{}, false)
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if validated.Data["mode"] != "fast" {
		t.Fatalf("expected default 'fast' to be merged in, got %v", validated.Data["mode"])
	}
}

func TestMergeCompositePinsList(t *testing.T) {
	in := Data{
		"items_#0": "a",
		"items_#1": "b",
		"items_#2": "c",
	}
	out := mergeCompositePins(in)
	list, ok := out["items"].([]any)
	if !ok {
		t.Fatalf("expected items to become a list, got %#v", out["items"])
	}
	if len(list) != 3 || list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Fatalf("expected ordered [a b c], got %v", list)
	}
}

func TestMergeCompositePinsDict(t *testing.T) {
	in := Data{
		"cfg_$host": "localhost",
		"cfg_$port": float64(8080),
	}
	out := mergeCompositePins(in)
	obj, ok := out["cfg"].(map[string]any)
	if !ok {
		t.Fatalf("expected cfg to become an object, got %#v", out["cfg"])
	}
	if obj["host"] != "localhost" || obj["port"] != float64(8080) {
		t.Fatalf("unexpected merged object: %v", obj)
	}
}

func TestMergeCompositePinsPlainPinsPassThrough(t *testing.T) {
	in := Data{"plain": 42}
	out := mergeCompositePins(in)
	if out["plain"] != 42 {
		t.Fatalf("expected plain pin to pass through untouched, got %v", out["plain"])
	}
}
