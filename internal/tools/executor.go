package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextlevelbuilder/clawcore/internal/session"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidInput     = errors.New("invalid tool input")
	ErrPermissionDenied = errors.New("tool permission denied")
	ErrAborted          = errors.New("execution aborted")
)

// Stage names, in pipeline order.
const (
	StageDiscovery  = "discovery"
	StageValidation = "validation"
	StagePermission = "permission"
	StageAbortCheck = "abort_check"
	StageExecution  = "execution"
	StageFormatting = "formatting"
)

// ToolCall is one request to run a tool.
type ToolCall struct {
	CallID   string
	ToolName string
	Args     map[string]interface{}
}

// ToolExecutionResult is the pipeline outcome for a single call. A failed
// stage leaves StagesCompleted short of six and sets Error.
type ToolExecutionResult struct {
	CallID          string        `json:"call_id"`
	ToolName        string        `json:"tool_name"`
	Success         bool          `json:"success"`
	Output          string        `json:"output,omitempty"`
	ForUser         string        `json:"for_user,omitempty"`
	Silent          bool          `json:"silent,omitempty"`
	Error           error         `json:"-"`
	FailedStage     string        `json:"failed_stage,omitempty"`
	StagesCompleted int           `json:"stages_completed"`
	ExecutionTime   time.Duration `json:"execution_time"`
}

// ErrorText is the failure message sent back to the model.
func (r *ToolExecutionResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// Executor runs tool calls through a staged pipeline: discovery, input
// validation, permission, abort check, execution, result formatting.
type Executor struct {
	registry *Registry
	policy   *PermissionPolicy

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

func NewExecutor(registry *Registry, policy *PermissionPolicy) *Executor {
	if policy == nil {
		policy = NewPermissionPolicy(DecisionAllow)
	}
	return &Executor{
		registry: registry,
		policy:   policy,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Execute runs one call through all six stages. The returned result always
// carries the call id and tool name so failures can be paired back to the
// originating tool_use block.
func (e *Executor) Execute(ctx context.Context, ectx *session.ExecutionContext, call ToolCall) *ToolExecutionResult {
	res := &ToolExecutionResult{CallID: call.CallID, ToolName: call.ToolName}
	start := time.Now()
	defer func() { res.ExecutionTime = time.Since(start) }()

	// Stage 1: discovery.
	tool, ok := e.registry.Get(call.ToolName)
	if !ok {
		return e.fail(res, StageDiscovery, fmt.Errorf("%w: %s", ErrUnknownTool, call.ToolName))
	}
	res.StagesCompleted++

	// Stage 2: input validation.
	if err := e.validate(tool, call.Args); err != nil {
		return e.fail(res, StageValidation, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	res.StagesCompleted++

	// Stage 3: permission.
	if !e.policy.Check(ctx, call.ToolName, call.Args) {
		return e.fail(res, StagePermission, fmt.Errorf("%w: %s", ErrPermissionDenied, call.ToolName))
	}
	res.StagesCompleted++

	// Stage 4: abort check. Last gate before side effects.
	if ectx != nil && ectx.Aborted() {
		return e.fail(res, StageAbortCheck, ErrAborted)
	}
	if err := ctx.Err(); err != nil {
		return e.fail(res, StageAbortCheck, fmt.Errorf("%w: %v", ErrAborted, err))
	}
	res.StagesCompleted++

	// Stage 5: execution.
	out := tool.Execute(ctx, call.Args)
	if out == nil {
		out = ErrorResult("tool returned no result")
	}
	res.StagesCompleted++
	if out.IsError {
		err := out.Err
		if err == nil {
			err = errors.New(out.ForLLM)
		}
		return e.fail(res, StageExecution, err)
	}

	// Stage 6: formatting.
	res.Output = formatSuccess(call, out.ForLLM)
	res.ForUser = out.ForUser
	res.Silent = out.Silent
	res.Success = true
	res.StagesCompleted++
	return res
}

func (e *Executor) fail(res *ToolExecutionResult, stage string, err error) *ToolExecutionResult {
	res.FailedStage = stage
	res.Error = err
	slog.Debug("tool call failed",
		"tool", res.ToolName, "call_id", res.CallID, "stage", stage, "error", err)
	return res
}

// validate checks args against the tool's JSON schema. A schema that does
// not compile degrades to a required-fields check.
func (e *Executor) validate(tool Tool, args map[string]interface{}) error {
	params := tool.Parameters()
	if params == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	sch, err := e.compiledSchema(tool.Name(), params)
	if err != nil {
		slog.Debug("tool schema did not compile, falling back to required check",
			"tool", tool.Name(), "error", err)
		return checkRequired(params, args)
	}

	// Round-trip so numbers and nested values take their JSON-native types.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return sch.Validate(doc)
}

func (e *Executor) compiledSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()
	if sch, ok := e.schemas[name]; ok {
		return sch, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	sch, err := jsonschema.CompileString(name+".json", string(raw))
	if err != nil {
		return nil, err
	}
	e.schemas[name] = sch
	return sch, nil
}

func checkRequired(params, args map[string]interface{}) error {
	required, _ := params["required"].([]string)
	if required == nil {
		if anyList, ok := params["required"].([]interface{}); ok {
			for _, v := range anyList {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}

// formatSuccess wraps tool output in the envelope the model receives.
// Output that is already an envelope (a JSON object carrying a "success"
// key, as MCP-imported tools produce) passes through verbatim.
func formatSuccess(call ToolCall, output string) string {
	var existing map[string]interface{}
	if err := json.Unmarshal([]byte(output), &existing); err == nil {
		if _, ok := existing["success"]; ok {
			return output
		}
	}

	payload := map[string]interface{}{
		"success":   true,
		"result":    output,
		"tool_name": call.ToolName,
		"call_id":   call.CallID,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return output
	}
	return string(b)
}
