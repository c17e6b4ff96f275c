package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	listPinSep = "_#"
	dictPinSep = "_$"
)

// ValidatedInput is the result of a successful Input Validation pass
// (§4.6): the fully resolved input mapping plus the name of the block
// it was validated against.
type ValidatedInput struct {
	Data      Data
	BlockName string
}

// ValidateExec runs the §4.6 Input Validation pipeline for node against
// the proposed input data. resolveInput controls whether dynamic
// composite pins (dict/list/object aggregation) are resolved; the Node
// Executor's pre-validation pass runs with resolveInput=false since the
// resolver already performed that merge.
func ValidateExec(catalog BlockCatalog, node *Node, data Data, resolveInput bool) (*ValidatedInput, string) {
	block, ok := catalog.GetBlock(node.BlockID)
	if !ok {
		return nil, fmt.Sprintf("block for %s not found", node.BlockID)
	}
	schema := block.Schema()
	errPrefix := fmt.Sprintf("input data missing or mismatch for `%s`:", block.Name())

	// step 2: coerce mismatched runtime types toward the declared kind.
	working := make(Data, len(data))
	for k, v := range data {
		working[k] = v
	}
	for _, f := range schema.Fields {
		if v, ok := working[f.Name]; ok && v != nil {
			working[f.Name] = Convert(v, f.Kind)
		}
	}

	// step 3: every required inbound link must have delivered a value.
	if missing := schema.GetMissingLinks(working, node.InputLinks); len(missing) > 0 {
		return nil, fmt.Sprintf("%s unpopulated links %v", errPrefix, missing)
	}

	// step 4: merge schema + node defaults under the provided input,
	// then (if requested) resolve composite pins.
	merged := schema.GetInputDefaults(node.InputDefault)
	for k, v := range working {
		merged[k] = v
	}
	if resolveInput {
		merged = mergeCompositePins(merged)
	}

	// step 5: required fields must be present after merge.
	if missing := schema.GetMissingInput(merged); len(missing) > 0 {
		return nil, fmt.Sprintf("%s missing input %v", errPrefix, missing)
	}

	// step 6: validate final values against the declared schema.
	if msg := schema.GetMismatchError(merged); msg != "" {
		return nil, errPrefix + " " + msg
	}

	return &ValidatedInput{Data: merged, BlockName: block.Name()}, ""
}

// mergeCompositePins aggregates sibling pins named "<name>_#<index>"
// into a list field "<name>" and "<name>_$<key>" into an object field
// "<name>", mirroring the dynamic dict/list pin aggregation the
// original engine performs before final validation. Plain pins pass
// through untouched.
func mergeCompositePins(in Data) Data {
	type listEntry struct {
		idx int
		val any
	}
	lists := map[string][]listEntry{}
	dicts := map[string]map[string]any{}
	out := Data{}

	for k, v := range in {
		switch {
		case strings.Contains(k, listPinSep):
			parts := strings.SplitN(k, listPinSep, 2)
			name, idxStr := parts[0], parts[1]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				out[k] = v
				continue
			}
			lists[name] = append(lists[name], listEntry{idx: idx, val: v})
		case strings.Contains(k, dictPinSep):
			parts := strings.SplitN(k, dictPinSep, 2)
			name, key := parts[0], parts[1]
			if dicts[name] == nil {
				dicts[name] = map[string]any{}
			}
			dicts[name][key] = v
		default:
			out[k] = v
		}
	}

	for name, entries := range lists {
		sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })
		// Build the resulting list as JSON through sjson, then decode
		// it back into Go values with gjson (numbers come back as
		// float64).
		raw := "[]"
		var err error
		for _, e := range entries {
			raw, err = sjson.Set(raw, "-1", e.val)
			if err != nil {
				break
			}
		}
		if existing, ok := out[name]; ok {
			out[name] = appendCompositeFallback(existing, raw)
		} else {
			out[name] = gjson.Parse(raw).Value()
		}
	}
	for name, obj := range dicts {
		if existing, ok := out[name].(map[string]any); ok {
			for k, v := range obj {
				existing[k] = v
			}
		} else {
			out[name] = obj
		}
	}
	return out
}

func appendCompositeFallback(existing any, raw string) any {
	parsed := gjson.Parse(raw).Value()
	if existingList, ok := existing.([]any); ok {
		if newList, ok := parsed.([]any); ok {
			return append(existingList, newList...)
		}
	}
	return parsed
}
