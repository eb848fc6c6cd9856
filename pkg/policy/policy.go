package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// ingestQuery is evaluated for every memory write. Each element of the deny set
// is a human readable reason.
const ingestQuery = "data.ingest.deny"

// Policy evaluates Rego rules on memory writes. A nil *Policy or a Policy built
// from a directory without .rego files allows everything.
type Policy struct {
	ingest *rego.PreparedEvalQuery
}

type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// New loads all .rego files in dir. An empty dir disables the policy.
func New(ctx context.Context, dir string) (*Policy, error) {
	if dir == "" {
		return &Policy{}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return &Policy{}, nil
	}

	options := []func(*rego.Rego){
		rego.Query(ingestQuery),
		rego.EnablePrintStatements(true),
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy", goerr.V("query", ingestQuery))
	}

	return &Policy{ingest: &prepared}, nil
}

// EvaluateMemory returns a validation error when the policy denies the write
func (p *Policy) EvaluateMemory(ctx context.Context, agentID model.AgentID, content string, metadata model.Metadata) error {
	if p == nil || p.ingest == nil {
		return nil
	}

	if metadata == nil {
		metadata = model.Metadata{}
	}
	input := map[string]any{
		"agent_id": agentID.String(),
		"content":  content,
		"metadata": map[string]any(metadata),
	}

	rs, err := p.ingest.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate ingest policy", goerr.V("agent_id", agentID))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	reasons, err := denyReasons(rs[0].Expressions[0].Value)
	if err != nil {
		return err
	}
	if len(reasons) == 0 {
		return nil
	}

	return model.NewValidationError("policy", "rejected by policy: "+strings.Join(reasons, "; "),
		goerr.V("agent_id", agentID))
}

func denyReasons(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, goerr.New("invalid ingest policy result: deny is not a set",
			goerr.V("type", fmt.Sprintf("%T", value)))
	}

	reasons := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			reasons = append(reasons, v)
		default:
			reasons = append(reasons, fmt.Sprintf("%v", v))
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}
