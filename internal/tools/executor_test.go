package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/clawcore/internal/session"
)

// fakeTool is a scriptable tool for pipeline tests.
type fakeTool struct {
	name    string
	params  map[string]interface{}
	execute func(ctx context.Context, args map[string]interface{}) *Result
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "test tool" }
func (f *fakeTool) Parameters() map[string]interface{} { return f.params }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return f.execute(ctx, args)
}

func echoTool(name string) *fakeTool {
	return &fakeTool{
		name: name,
		params: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
		execute: func(ctx context.Context, args map[string]interface{}) *Result {
			return NewResult(args["text"].(string))
		},
	}
}

func newTestExecutor(t *testing.T, policy *PermissionPolicy, tools ...Tool) *Executor {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}
	return NewExecutor(reg, policy)
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t, nil, echoTool("echo"))
	ectx := session.NewExecutionContext("s", "m")

	res := e.Execute(context.Background(), ectx, ToolCall{
		CallID: "c1", ToolName: "echo",
		Args: map[string]interface{}{"text": "hi"},
	})

	if !res.Success {
		t.Fatalf("Success = false: %v", res.Error)
	}
	if res.StagesCompleted != 6 {
		t.Errorf("StagesCompleted = %d, want 6", res.StagesCompleted)
	}
	if res.FailedStage != "" {
		t.Errorf("FailedStage = %q", res.FailedStage)
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(res.Output), &envelope); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if envelope["success"] != true || envelope["result"] != "hi" ||
		envelope["tool_name"] != "echo" || envelope["call_id"] != "c1" {
		t.Errorf("envelope = %v", envelope)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newTestExecutor(t, nil)
	res := e.Execute(context.Background(), nil, ToolCall{CallID: "c1", ToolName: "missing"})

	if res.Success {
		t.Fatal("Success = true for unknown tool")
	}
	if res.FailedStage != StageDiscovery || res.StagesCompleted != 0 {
		t.Errorf("stage = %q completed = %d, want discovery/0", res.FailedStage, res.StagesCompleted)
	}
	if !errors.Is(res.Error, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", res.Error)
	}
	if res.CallID != "c1" || res.ToolName != "missing" {
		t.Errorf("identity lost: %+v", res)
	}
}

func TestExecuteValidationFailure(t *testing.T) {
	e := newTestExecutor(t, nil, echoTool("echo"))

	res := e.Execute(context.Background(), nil, ToolCall{
		CallID: "c1", ToolName: "echo",
		Args: map[string]interface{}{},
	})

	if res.Success {
		t.Fatal("Success = true with missing required field")
	}
	if res.FailedStage != StageValidation || res.StagesCompleted != 1 {
		t.Errorf("stage = %q completed = %d, want validation/1", res.FailedStage, res.StagesCompleted)
	}
	if !errors.Is(res.Error, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", res.Error)
	}
}

func TestExecutePermissionDenied(t *testing.T) {
	policy := NewPermissionPolicy(DecisionAllow)
	policy.SetOverride("echo", DecisionDeny)
	e := newTestExecutor(t, policy, echoTool("echo"))

	res := e.Execute(context.Background(), nil, ToolCall{
		CallID: "c1", ToolName: "echo",
		Args: map[string]interface{}{"text": "hi"},
	})

	if res.Success {
		t.Fatal("Success = true for denied tool")
	}
	if res.FailedStage != StagePermission || res.StagesCompleted != 2 {
		t.Errorf("stage = %q completed = %d, want permission/2", res.FailedStage, res.StagesCompleted)
	}
	if !errors.Is(res.Error, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", res.Error)
	}
}

func TestExecuteAskResolution(t *testing.T) {
	policy := NewPermissionPolicy(DecisionAsk)
	asked := false
	policy.SetAskFunc(func(ctx context.Context, toolName string, args map[string]interface{}) bool {
		asked = true
		return toolName == "echo"
	})
	e := newTestExecutor(t, policy, echoTool("echo"))

	res := e.Execute(context.Background(), nil, ToolCall{
		CallID: "c1", ToolName: "echo",
		Args: map[string]interface{}{"text": "hi"},
	})
	if !asked {
		t.Error("AskFunc not consulted")
	}
	if !res.Success {
		t.Errorf("ask approval did not allow execution: %v", res.Error)
	}
}

func TestExecuteAbortedContext(t *testing.T) {
	e := newTestExecutor(t, nil, echoTool("echo"))
	ectx := session.NewExecutionContext("s", "m")
	ectx.Abort()

	res := e.Execute(context.Background(), ectx, ToolCall{
		CallID: "c1", ToolName: "echo",
		Args: map[string]interface{}{"text": "hi"},
	})

	if res.Success {
		t.Fatal("Success = true after abort")
	}
	if res.FailedStage != StageAbortCheck || res.StagesCompleted != 3 {
		t.Errorf("stage = %q completed = %d, want abort_check/3", res.FailedStage, res.StagesCompleted)
	}
	if !errors.Is(res.Error, ErrAborted) {
		t.Errorf("err = %v, want ErrAborted", res.Error)
	}
}

func TestExecuteCancelledGoContext(t *testing.T) {
	e := newTestExecutor(t, nil, echoTool("echo"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Execute(ctx, nil, ToolCall{
		CallID: "c1", ToolName: "echo",
		Args: map[string]interface{}{"text": "hi"},
	})

	if res.Success || res.FailedStage != StageAbortCheck {
		t.Errorf("result = %+v, want abort_check failure", res)
	}
	if !errors.Is(res.Error, ErrAborted) {
		t.Errorf("err = %v, want ErrAborted", res.Error)
	}
}

func TestExecuteToolError(t *testing.T) {
	boom := errors.New("disk on fire")
	failing := &fakeTool{
		name: "fail",
		execute: func(ctx context.Context, args map[string]interface{}) *Result {
			return ErrorResult("it broke").WithError(boom)
		},
	}
	e := newTestExecutor(t, nil, failing)

	res := e.Execute(context.Background(), nil, ToolCall{CallID: "c1", ToolName: "fail"})

	if res.Success {
		t.Fatal("Success = true for failing tool")
	}
	if res.FailedStage != StageExecution || res.StagesCompleted != 5 {
		t.Errorf("stage = %q completed = %d, want execution/5", res.FailedStage, res.StagesCompleted)
	}
	if !errors.Is(res.Error, boom) {
		t.Errorf("err = %v, want wrapped tool error", res.Error)
	}
	if res.ErrorText() == "" {
		t.Error("ErrorText empty for failed call")
	}
}

func TestExecuteNilResult(t *testing.T) {
	broken := &fakeTool{
		name: "nilly",
		execute: func(ctx context.Context, args map[string]interface{}) *Result {
			return nil
		},
	}
	e := newTestExecutor(t, nil, broken)

	res := e.Execute(context.Background(), nil, ToolCall{CallID: "c1", ToolName: "nilly"})
	if res.Success || res.FailedStage != StageExecution {
		t.Errorf("result = %+v, want execution failure", res)
	}
}

func TestExecutePassesThroughEnvelope(t *testing.T) {
	// MCP-imported tools already wrap their output in a success envelope.
	enveloped := `{"success":false,"error":"remote refused","tool_name":"mcp_fetch"}`
	remote := &fakeTool{
		name: "mcp_fetch",
		execute: func(ctx context.Context, args map[string]interface{}) *Result {
			return NewResult(enveloped)
		},
	}
	e := newTestExecutor(t, nil, remote)

	res := e.Execute(context.Background(), nil, ToolCall{CallID: "c1", ToolName: "mcp_fetch"})
	if !res.Success {
		t.Fatalf("pipeline failed: %v", res.Error)
	}
	if res.Output != enveloped {
		t.Errorf("Output = %q, want the tool's envelope verbatim", res.Output)
	}

	// A bare JSON object without a "success" key still gets wrapped.
	plain := &fakeTool{
		name: "plain",
		execute: func(ctx context.Context, args map[string]interface{}) *Result {
			return NewResult(`{"rows":3}`)
		},
	}
	e = newTestExecutor(t, nil, plain)
	res = e.Execute(context.Background(), nil, ToolCall{CallID: "c2", ToolName: "plain"})

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(res.Output), &envelope); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if envelope["success"] != true || envelope["result"] != `{"rows":3}` {
		t.Errorf("envelope = %v, want wrapped output", envelope)
	}
}

func TestValidateSchemaTypeMismatch(t *testing.T) {
	e := newTestExecutor(t, nil, echoTool("echo"))

	res := e.Execute(context.Background(), nil, ToolCall{
		CallID: "c1", ToolName: "echo",
		Args: map[string]interface{}{"text": 42},
	})
	if res.Success || res.FailedStage != StageValidation {
		t.Errorf("result = %+v, want validation failure for wrong type", res)
	}
}

func TestCheckRequiredFallback(t *testing.T) {
	params := map[string]interface{}{
		"type":     "object",
		"required": []string{"a", "b"},
	}
	if err := checkRequired(params, map[string]interface{}{"a": 1, "b": 2}); err != nil {
		t.Errorf("complete args: %v", err)
	}
	if err := checkRequired(params, map[string]interface{}{"a": 1}); err == nil {
		t.Error("missing field not reported")
	}

	anyList := map[string]interface{}{
		"required": []interface{}{"x"},
	}
	if err := checkRequired(anyList, map[string]interface{}{}); err == nil {
		t.Error("missing field not reported for []interface{} required list")
	}
}
