package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intellirouter/intellirouter/internal/apierr"
)

func str(s string) *string { return &s }

func validRequest() *ChatRequest {
	return &ChatRequest{
		Model:    "gpt-4",
		Messages: []Message{{Role: RoleUser, Content: str("hi")}},
	}
}

func TestValidateAcceptsMinimalRequest(t *testing.T) {
	assert.Nil(t, Validate(validRequest()))
}

func TestValidateRejectsMissingModel(t *testing.T) {
	req := validRequest()
	req.Model = ""
	err := Validate(req)
	assert.Equal(t, apierr.KindValidation, err.Kind)
	assert.Equal(t, "model", err.Field)
}

func TestValidateRejectsEmptyMessages(t *testing.T) {
	req := validRequest()
	req.Messages = nil
	err := Validate(req)
	assert.Equal(t, "messages", err.Field)
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	req := validRequest()
	req.Messages[0].Role = "narrator"
	err := Validate(req)
	assert.Equal(t, "messages", err.Field)
}

func TestValidateRejectsMissingContentWithoutCalls(t *testing.T) {
	req := validRequest()
	req.Messages[0].Content = nil
	err := Validate(req)
	assert.Equal(t, "messages", err.Field)
}

func TestValidateAllowsFunctionCallWithoutContent(t *testing.T) {
	req := validRequest()
	req.Messages[0].Content = nil
	req.Messages[0].FunctionCall = &FunctionCall{Name: "lookup", Arguments: "{}"}
	assert.Nil(t, Validate(req))
}

func TestValidateRejectsFunctionsAndToolsTogether(t *testing.T) {
	req := validRequest()
	req.Functions = []FunctionDef{{Name: "f"}}
	req.Tools = []ToolDef{{Type: "function", Function: FunctionDef{Name: "g"}}}
	err := Validate(req)
	assert.Equal(t, "functions", err.Field)
}

func TestValidateRejectsStreamWithNGreaterThanOne(t *testing.T) {
	req := validRequest()
	req.Stream = true
	n := 2
	req.N = &n
	err := Validate(req)
	assert.Equal(t, "n", err.Field)
}

func TestValidateRejectsOutOfRangeTemperature(t *testing.T) {
	req := validRequest()
	temp := 3.0
	req.Temperature = &temp
	err := Validate(req)
	assert.Equal(t, apierr.KindValidation, err.Kind)
}

func TestValidateRejectsTooManyStopSequences(t *testing.T) {
	req := validRequest()
	req.Stop = []string{"a", "b", "c", "d", "e"}
	err := Validate(req)
	assert.Equal(t, apierr.KindValidation, err.Kind)
}
