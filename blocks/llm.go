package blocks

import (
	"fmt"

	"github.com/flowstack/graphexec/engine"
	"github.com/flowstack/graphexec/engine/model"
)

// LLMBlock is a STANDARD block that turns its "prompt" input into a
// single ChatModel call and republishes the result on "text" (plus
// "tool_calls" when the model asked to invoke one). The credential
// field declared in its schema is resolved and locked by the executor
// before Execute runs (§4.2 step 3) and handed back through
// ExecContext.Credentials, not read from node input directly.
type LLMBlock struct {
	base
	newModel func(apiKey string) model.ChatModel
	credFld  string
	perCall  int64
}

// NewLLMBlock builds an LLMBlock that resolves its credential under
// credentialField and constructs a provider ChatModel from the
// injected Credential's Payload["api_key"] via newModel. perCallCost
// is the flat credit charge reported through UsageCost (0 disables
// CostedBlock accounting).
func NewLLMBlock(id string, credentialField string, newModel func(apiKey string) model.ChatModel, perCallCost int64) *LLMBlock {
	return &LLMBlock{
		base: base{id: id, name: "LLM Chat", typ: engine.BlockStandard, schema: &engine.InputSchema{
			Fields: []engine.FieldSchema{
				{Name: "prompt", Kind: engine.KindString, Required: true},
				{Name: credentialField, Kind: engine.KindObject, Credential: true},
			},
		}},
		newModel: newModel,
		credFld:  credentialField,
		perCall:  perCallCost,
	}
}

// UsageCost implements engine.CostedBlock: every successful dispatch
// costs the same flat amount, independent of prompt size (§4.4 step 1).
func (b *LLMBlock) UsageCost(input engine.Data) (int64, string) {
	if b.perCall <= 0 {
		return 0, ""
	}
	return b.perCall, "llm_call"
}

func (b *LLMBlock) Execute(ctx engine.ExecContext, input engine.Data) (<-chan engine.Output, <-chan error) {
	outs := make(chan engine.Output, 2)
	errs := make(chan error, 1)

	go func() {
		defer close(outs)

		prompt, _ := input["prompt"].(string)
		cred, ok := ctx.Credentials[b.credFld]
		if !ok || cred == nil {
			errs <- fmt.Errorf("llm block %s: no credential resolved for field %q", b.id, b.credFld)
			return
		}
		apiKey, _ := cred.Payload["api_key"].(string)

		chat := b.newModel(apiKey)
		out, err := chat.Chat(ctx.Ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
		if err != nil {
			errs <- fmt.Errorf("llm block %s: %w", b.id, err)
			return
		}

		outs <- engine.Output{Name: "text", Value: out.Text}
		if len(out.ToolCalls) > 0 {
			outs <- engine.Output{Name: "tool_calls", Value: out.ToolCalls}
		}
	}()

	return outs, errs
}
