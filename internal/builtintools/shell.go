package builtintools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/invopop/jsonschema"
)

// shellParams mirrors spec §4.d's shell(command) signature.
type shellParams struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to execute"`
}

// shellResult is spec's literal {success, output, code, message} shape.
type shellResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func shellSchema() json.RawMessage {
	return mustSchema(&shellParams{})
}

// runShell executes command in a subshell (teacher's exec manager runs the
// same way: /bin/sh -c, combined stdout+stderr captured for the model).
func runShell(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in shellParams
	if err := json.Unmarshal(params, &in); err != nil {
		return marshalResult(shellResult{Message: "invalid parameters: " + err.Error()})
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return marshalResult(shellResult{Message: "command is required"})
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := shellResult{Output: out.String()}
	if err == nil {
		result.Success = true
		result.Code = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		result.Code = exitErr.ExitCode()
		result.Message = err.Error()
	} else {
		result.Code = -1
		result.Message = err.Error()
	}
	return marshalResult(result)
}

func marshalResult(v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// mustSchema reflects a JSON schema for a parameter struct using
// invopop/jsonschema, matching the struct-tag-driven schemas the teacher's
// tool definitions hand-roll as map literals.
func mustSchema(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(v)
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
