// Package blocks furnishes a small reference Block catalog: enough
// concrete blocks to drive the engine end to end without pulling in a
// real product's block library. A deployment's actual catalog is an
// external collaborator (engine.BlockCatalog); this package is sample
// wiring, not the spec's block surface.
package blocks

import (
	"context"

	"github.com/flowstack/graphexec/engine"
)

// Catalog is a simple in-memory engine.BlockCatalog keyed by block ID.
type Catalog struct {
	blocks map[string]engine.Block
}

// NewCatalog builds a Catalog from the given blocks, keyed by their
// own ID() (duplicates overwrite in iteration order).
func NewCatalog(bs ...engine.Block) *Catalog {
	c := &Catalog{blocks: make(map[string]engine.Block, len(bs))}
	for _, b := range bs {
		c.blocks[b.ID()] = b
	}
	return c
}

func (c *Catalog) GetBlock(blockID string) (engine.Block, bool) {
	b, ok := c.blocks[blockID]
	return b, ok
}

// base holds the identity fields every reference block shares.
type base struct {
	id     string
	name   string
	typ    engine.BlockType
	schema *engine.InputSchema
}

func (b *base) ID() string                    { return b.id }
func (b *base) Name() string                  { return b.name }
func (b *base) Type() engine.BlockType        { return b.typ }
func (b *base) Schema() *engine.InputSchema   { return b.schema }

// InputBlock is a starting node that hands its "value" field straight
// through as the "result" output (§4.5 extractStartingInputs wraps the
// seed as {"value": data[name]}).
type InputBlock struct{ base }

// NewInputBlock builds an InputBlock with the given block id.
func NewInputBlock(id string) *InputBlock {
	return &InputBlock{base{id: id, name: "Input", typ: engine.BlockInput, schema: &engine.InputSchema{
		Fields: []engine.FieldSchema{{Name: "value", Kind: engine.KindAny}},
	}}}
}

func (b *InputBlock) Execute(ctx engine.ExecContext, input engine.Data) (<-chan engine.Output, <-chan error) {
	outs := make(chan engine.Output, 1)
	errs := make(chan error, 1)
	outs <- engine.Output{Name: "result", Value: input["value"]}
	close(outs)
	return outs, errs
}

// OutputBlock is a terminal sink: it has no outbound links of its own
// and simply re-emits its "value" input as "result" so AGENT_RUN
// notifications (§4.3 notifyAgentRun) have something to report.
type OutputBlock struct{ base }

func NewOutputBlock(id string) *OutputBlock {
	return &OutputBlock{base{id: id, name: "Output", typ: engine.BlockOutput, schema: &engine.InputSchema{
		Fields: []engine.FieldSchema{{Name: "value", Kind: engine.KindAny}},
	}}}
}

func (b *OutputBlock) Execute(ctx engine.ExecContext, input engine.Data) (<-chan engine.Output, <-chan error) {
	outs := make(chan engine.Output, 1)
	errs := make(chan error, 1)
	outs <- engine.Output{Name: "result", Value: input["value"]}
	close(outs)
	return outs, errs
}

// PassthroughBlock is a standard block that copies every input field
// to an identically named output pin, useful as a no-op fan-out point
// in tests and example graphs.
type PassthroughBlock struct{ base }

func NewPassthroughBlock(id string, schema *engine.InputSchema) *PassthroughBlock {
	return &PassthroughBlock{base{id: id, name: "Passthrough", typ: engine.BlockStandard, schema: schema}}
}

func (b *PassthroughBlock) Execute(ctx engine.ExecContext, input engine.Data) (<-chan engine.Output, <-chan error) {
	outs := make(chan engine.Output, len(input))
	errs := make(chan error, 1)
	go func() {
		defer close(outs)
		for name, value := range input {
			select {
			case outs <- engine.Output{Name: name, Value: value}:
			case <-ctx.Ctx.Done():
				return
			}
		}
	}()
	return outs, errs
}

// WebhookBlock is a starting node fed by extractStartingInputs'
// WEBHOOK/WEBHOOK_MANUAL case: it republishes the "payload" field.
type WebhookBlock struct {
	base
	manual bool
}

func NewWebhookBlock(id string, manual bool) *WebhookBlock {
	typ := engine.BlockWebhook
	if manual {
		typ = engine.BlockWebhookManual
	}
	return &WebhookBlock{base: base{id: id, name: "Webhook", typ: typ, schema: &engine.InputSchema{
		Fields: []engine.FieldSchema{{Name: "payload", Kind: engine.KindAny}},
	}}, manual: manual}
}

func (b *WebhookBlock) Execute(ctx engine.ExecContext, input engine.Data) (<-chan engine.Output, <-chan error) {
	outs := make(chan engine.Output, 1)
	errs := make(chan error, 1)
	outs <- engine.Output{Name: "payload", Value: input["payload"]}
	close(outs)
	return outs, errs
}

// NoteBlock exists only to be skipped: extractStartingInputs and the
// scheduler never dispatch it (§3: "Note blocks are never executed").
type NoteBlock struct{ base }

func NewNoteBlock(id string) *NoteBlock {
	return &NoteBlock{base{id: id, name: "Note", typ: engine.BlockNote, schema: &engine.InputSchema{}}}
}

func (b *NoteBlock) Execute(ctx engine.ExecContext, input engine.Data) (<-chan engine.Output, <-chan error) {
	outs := make(chan engine.Output)
	errs := make(chan error, 1)
	close(outs)
	errs <- context.Canceled
	close(errs)
	return outs, errs
}
