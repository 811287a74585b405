// Package llmclient wraps the Anthropic SDK with the two call shapes spec
// §4.4/§6 requires: a one-shot grammar-constrained structured-output call
// (SimpleAgent) and a bounded tool-using agent loop (ProgrammaticAgent).
// Both are stateless — no conversation memory carries across calls.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

// estimateTokens gives a cheap, conservative token estimate (~4 characters
// per token, the ratio Claude's tokenizer runs close to) used only to
// pre-flight a budget check before a call is issued — the real cost always
// comes from the response's Usage once the call returns.
func estimateTokens(s string) int {
	return utf8.RuneCountInString(s)/4 + 1
}

// Client is the sole Anthropic dependency the rest of the core talks to.
type Client struct {
	sdk     anthropic.Client
	model   anthropic.Model
	budget  *TokenBudget
	log     *logrus.Entry
	debug   bool
}

// New builds a Client. model is typically anthropic.ModelClaude3_7SonnetLatest
// or a pinned dated model string; debug mirrors DEBUG_LOGGING (spec §6).
func New(apiKey string, model anthropic.Model, budget *TokenBudget, debug bool, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		sdk:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		budget: budget,
		debug:  debug,
		log:    log,
	}
}

func (c *Client) logCall(call string, usage anthropic.Usage) {
	fields := logrus.Fields{
		"call":              call,
		"model_id":          string(c.model),
		"input_tokens":      usage.InputTokens,
		"output_tokens":     usage.OutputTokens,
		"cumulative_tokens": c.budget.Used(),
	}
	if c.debug {
		c.log.WithFields(fields).Debug("language model call")
	} else {
		c.log.WithFields(fields).Info("language model call")
	}
}

// SimpleAgent performs one grammar-constrained round trip. The target
// schema is expressed as a single forced tool call: the model is required
// to invoke a synthetic tool named schemaName whose input_schema is
// jsonSchema, so its tool_use.Input is guaranteed-parseable JSON matching
// that schema (spec §4.4: "Output: a validated instance of that type").
// out must be a pointer; its JSON tags drive unmarshaling.
func (c *Client) SimpleAgent(ctx context.Context, systemPrompt, userPrompt, schemaName, schemaDescription string, jsonSchema map[string]any, out any) error {
	tool := anthropic.ToolParam{
		Name:        schemaName,
		Description: anthropic.String(schemaDescription),
		InputSchema: anthropic.ToolInputSchemaParam{Properties: jsonSchema},
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt))},
		Tools:     []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: schemaName},
		},
	}

	estimated := estimateTokens(systemPrompt) + estimateTokens(userPrompt) + int(params.MaxTokens)
	if err := c.budget.Reject(estimated); err != nil {
		return err
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return fmt.Errorf("llmclient: simple agent call: %w", err)
	}
	c.logCall("simple_agent:"+schemaName, msg.Usage)
	if err := c.budget.Consume(int(msg.Usage.InputTokens + msg.Usage.OutputTokens)); err != nil {
		return err
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		if err := json.Unmarshal([]byte(block.Input), out); err != nil {
			return fmt.Errorf("llmclient: unmarshal %s output: %w", schemaName, err)
		}
		return nil
	}
	return fmt.Errorf("llmclient: response contained no tool_use block for %s", schemaName)
}

// Tool is a sandbox-callable closure ProgrammaticAgent may invoke. Only
// Handler ever runs locally; Name/Description/InputSchema describe it to
// the model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, input json.RawMessage) (string, error)
}

// ProgrammaticAgent runs a bounded tool-use loop: the model may call any of
// tools up to maxIterations times before it must settle on a final answer
// shaped by outputSchema, expressed the same forced-tool way SimpleAgent
// uses. Intermediate tool results are appended to the running message list
// so they stay in this call's context only — no skill-guide content or
// cross-call memory (spec §4.4, §4.6).
func (c *Client) ProgrammaticAgent(ctx context.Context, systemPrompt, userPrompt string, tools []Tool, outputSchemaName, outputSchemaDescription string, outputSchema map[string]any, out any, maxIterations int) error {
	toolParams := make([]anthropic.ToolUnionParam, 0, len(tools)+1)
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
		toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: t.InputSchema},
		}})
	}
	finishTool := anthropic.ToolParam{
		Name:        outputSchemaName,
		Description: anthropic.String(outputSchemaDescription),
		InputSchema: anthropic.ToolInputSchemaParam{Properties: outputSchema},
	}
	toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &finishTool})

	messages := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt))}

	// promptTokens is the fixed system+user prompt cost; conversationTokens
	// grows as each iteration's tool results are appended, so later
	// iterations of a long loop get a correspondingly larger pre-flight
	// estimate rather than reusing iteration 0's.
	promptTokens := estimateTokens(systemPrompt) + estimateTokens(userPrompt)
	conversationTokens := 0

	for iteration := 0; iteration < maxIterations; iteration++ {
		params := anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 4096,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     toolParams,
		}

		estimated := promptTokens + conversationTokens + int(params.MaxTokens)
		if err := c.budget.Reject(estimated); err != nil {
			return err
		}

		msg, err := c.sdk.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("llmclient: programmatic agent call: %w", err)
		}
		c.logCall(fmt.Sprintf("programmatic_agent:iteration_%d", iteration), msg.Usage)
		if err := c.budget.Consume(int(msg.Usage.InputTokens + msg.Usage.OutputTokens)); err != nil {
			return err
		}

		messages = append(messages, msg.ToParam())

		var toolResults []anthropic.ContentBlockParamUnion
		finished := false
		for _, block := range msg.Content {
			if block.Type != "tool_use" {
				continue
			}
			if block.Name == outputSchemaName {
				if err := json.Unmarshal([]byte(block.Input), out); err != nil {
					return fmt.Errorf("llmclient: unmarshal %s output: %w", outputSchemaName, err)
				}
				finished = true
				continue
			}
			tool, ok := byName[block.Name]
			if !ok {
				toolResults = append(toolResults, anthropic.NewToolResultBlock(block.ID, fmt.Sprintf("unknown tool %q", block.Name), true))
				continue
			}
			output, err := tool.Handler(ctx, json.RawMessage(block.Input))
			if err != nil {
				toolResults = append(toolResults, anthropic.NewToolResultBlock(block.ID, err.Error(), true))
				conversationTokens += estimateTokens(err.Error())
				continue
			}
			toolResults = append(toolResults, anthropic.NewToolResultBlock(block.ID, output, false))
			conversationTokens += estimateTokens(output)
		}

		if finished {
			return nil
		}
		if len(toolResults) == 0 {
			return fmt.Errorf("llmclient: model returned neither a tool call nor %s", outputSchemaName)
		}
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}
	return fmt.Errorf("llmclient: %w", &IterationCapExceededError{Max: maxIterations})
}

// IterationCapExceededError aborts a ProgrammaticAgent loop that never
// settled on a final answer within max_iterations (spec §5, §7).
type IterationCapExceededError struct {
	Max int
}

func (e *IterationCapExceededError) Error() string {
	return fmt.Sprintf("llmclient: exceeded max_iterations (%d) without a final answer", e.Max)
}
