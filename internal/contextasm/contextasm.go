// Package contextasm implements the context assembler (component J): it
// packs a system prompt, recalled memories, and recent messages into a
// token-budgeted message list, truncating from the oldest material first.
package contextasm

import (
	"encoding/json"
	"math"
	"strings"
)

// Message is one entry in an assembled context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is the assembler's request.
type Input struct {
	SystemPrompt string
	Messages     []Message // ordered oldest-first; newest is Messages[len-1]
	Memories     []string
	Tools        []ToolDefinition
	MaxTokens    int
}

// ToolDefinition is whatever the host's tool schema looks like; only its
// JSON-encoded size matters to the token estimator.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      any    `json:"schema,omitempty"`
}

// Output is the assembler's result.
// Invariant: Messages[0] is always the system prompt; if a memory block
// is present it is Messages[1] with Role "system".
type Output struct {
	Messages      []Message
	TokenEstimate int
	Truncated     bool
}

const memoryBlockHeader = "## RECALLED MEMORIES\n"

// EstimateTokens JSON-marshals arbitrary values and estimates ceil(len/4),
// or applies ceil(len/4) directly for raw strings.
func EstimateTokens(value any) int {
	if s, ok := value.(string); ok {
		return ceilDiv4(len(s))
	}
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return ceilDiv4(len(data))
}

func ceilDiv4(n int) int {
	return int(math.Ceil(float64(n) / 4))
}

// Assemble packs in.Messages/Memories around in.SystemPrompt within
// in.MaxTokens, following the fixed packing order: system prompt,
// messages, then the memory block in the budget that remains.
func Assemble(in Input) Output {
	systemCost := EstimateTokens(in.SystemPrompt) + EstimateTokens(in.Tools)

	if systemCost > in.MaxTokens {
		return Output{
			Messages:      []Message{{Role: "system", Content: in.SystemPrompt}},
			TokenEstimate: systemCost,
			Truncated:     true,
		}
	}

	remaining := in.MaxTokens - systemCost
	truncated := false

	// Step 3: add messages newest-first until the next would exceed the
	// remaining budget; stop on first refusal, then restore chronological
	// order for output.
	var kept []Message
	for i := len(in.Messages) - 1; i >= 0; i-- {
		msg := in.Messages[i]
		cost := EstimateTokens(msg.Content)
		if cost > remaining {
			truncated = true
			break
		}
		kept = append(kept, msg)
		remaining -= cost
	}
	reverse(kept)

	// Step 4: build the memory block, if any memories fit.
	var memoryBlock *Message
	if len(in.Memories) > 0 {
		var b strings.Builder
		b.WriteString(memoryBlockHeader)
		fitAny := false
		for _, m := range in.Memories {
			line := "- " + m + "\n"
			cost := EstimateTokens(line)
			if cost > remaining {
				truncated = true
				continue
			}
			b.WriteString(line)
			remaining -= cost
			fitAny = true
		}
		if fitAny {
			memoryBlock = &Message{Role: "system", Content: b.String()}
		} else if len(in.Memories) > 0 {
			truncated = true
		}
	}

	out := make([]Message, 0, 2+len(kept))
	out = append(out, Message{Role: "system", Content: in.SystemPrompt})
	if memoryBlock != nil {
		out = append(out, *memoryBlock)
	}
	out = append(out, kept...)

	return Output{
		Messages:      out,
		TokenEstimate: in.MaxTokens - remaining,
		Truncated:     truncated,
	}
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
