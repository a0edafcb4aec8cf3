// Package wire defines the OpenAI-compatible chat-completion schema and the
// chain-definition schema that cross the HTTP and gRPC boundaries, plus the
// validation rules from spec §4.1. Struct tags carry what
// github.com/go-playground/validator/v10 can express directly; the cross-
// field rules it cannot (mutually exclusive functions/tools, content
// presence tied to function/tool calls) are checked by hand in Validate.
package wire

import (
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/intellirouter/intellirouter/internal/apierr"
)

var validate = validator.New()

// Role is one of the message roles accepted on a ChatRequest.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleTool      Role = "tool"
)

var allowedRoles = map[Role]bool{
	RoleSystem: true, RoleUser: true, RoleAssistant: true,
	RoleFunction: true, RoleTool: true,
}

// FinishReason is the terminal reason a choice stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishFunctionCall  FinishReason = "function_call"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// FunctionCall is the legacy single-function invocation shape.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one entry of a message's tool_calls.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one turn of a ChatRequest's conversation.
type Message struct {
	Role         Role          `json:"role" validate:"required"`
	Content      *string       `json:"content,omitempty"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
}

// FunctionDef declares a callable function in the legacy functions[] style.
type FunctionDef struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolDef declares a callable tool in the tools[] style.
type ToolDef struct {
	Type     string      `json:"type" validate:"required"`
	Function FunctionDef `json:"function"`
}

// ChatRequest is the OpenAI-compatible chat-completion request body.
type ChatRequest struct {
	Model            string         `json:"model" validate:"required"`
	Messages         []Message      `json:"messages" validate:"required,min=1,dive"`
	Temperature      *float64       `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP             *float64       `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	N                *int           `json:"n,omitempty" validate:"omitempty,gte=1,lte=10"`
	MaxTokens        *int           `json:"max_tokens,omitempty" validate:"omitempty,gte=1"`
	Stop             []string       `json:"stop,omitempty" validate:"omitempty,max=4"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"`
	User             string         `json:"user,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	Functions        []FunctionDef  `json:"functions,omitempty"`
	FunctionCall     any            `json:"function_call,omitempty"`
	Tools            []ToolDef      `json:"tools,omitempty"`
	ToolChoice       any            `json:"tool_choice,omitempty"`
}

// Usage reports token accounting for a completed (non-streaming) response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one generated completion within a ChatResponse.
type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ChatResponse is the non-streaming response to POST /v1/chat/completions.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta is the incremental message fragment carried by a ChatChunk choice.
type Delta struct {
	Role      Role       `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is one choice within a streamed ChatChunk.
type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        Delta         `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason"`
}

// ChatChunk is one SSE `data:` frame of a streaming chat completion.
type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// Validate enforces spec §4.1's acceptance rules, including the cross-field
// rules the validator struct tags cannot express on their own.
func Validate(req *ChatRequest) *apierr.Error {
	if req.Model == "" {
		return apierr.Validation("model", "model is required")
	}
	if len(req.Messages) == 0 {
		return apierr.Validation("messages", "at least one message is required")
	}
	for i, m := range req.Messages {
		if !allowedRoles[m.Role] {
			return apierr.Validation("messages", "unknown role "+string(m.Role)+" at index "+strconv.Itoa(i))
		}
		if m.Content == nil && m.FunctionCall == nil && len(m.ToolCalls) == 0 {
			return apierr.Validation("messages", "content, function_call, or tool_calls must be present at index "+strconv.Itoa(i))
		}
	}
	if len(req.Functions) > 0 && len(req.Tools) > 0 {
		return apierr.Validation("functions", "functions and tools must not be used together")
	}
	if req.Stream && req.N != nil && *req.N > 1 {
		return apierr.Validation("n", "stream=true is incompatible with n>1")
	}
	if err := validate.Struct(req); err != nil {
		return translateFieldError(err)
	}
	return nil
}

func translateFieldError(err error) *apierr.Error {
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apierr.Validation(fe.Field(), fe.Tag()+" constraint violated")
	}
	return apierr.Validation("", err.Error())
}
