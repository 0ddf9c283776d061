package executors

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// NodeConfig locates the per-project node playbooks: shell scripts that
// install, restart or exercise a testnet node for one project.
type NodeConfig struct {
	PlaybookDir string
}

// Playbook names are derived from project ids; restrict them so a task can
// never escape the playbook directory.
var projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// NodeExecutor performs node actions by running the project's playbook
// script under the task's deadline.
type NodeExecutor struct {
	cfg NodeConfig
}

// NewNodeExecutor creates a NodeExecutor from config.
func NewNodeExecutor(cfg NodeConfig) *NodeExecutor {
	return &NodeExecutor{cfg: cfg}
}

func (e *NodeExecutor) Action() domain.ActionType { return domain.ActionNodeAction }

func (e *NodeExecutor) Execute(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "executor.node")
	defer span.End()

	if !projectIDPattern.MatchString(task.ProjectID) {
		err := fmt.Errorf("project id %q is not a valid playbook name", task.ProjectID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid project id")
		return err
	}

	script := filepath.Join(e.cfg.PlaybookDir, task.ProjectID+".sh")
	span.SetAttributes(
		attribute.String("node.project", task.ProjectID),
		attribute.String("node.playbook", script),
	)

	cmd := exec.CommandContext(ctx, script, string(task.Category))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("playbook %s timed out: %w", script, ctx.Err())
			span.RecordError(err)
			span.SetStatus(codes.Error, "timeout")
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "playbook failed")
		return fmt.Errorf("playbook %s: %w (stderr: %s)", script, err, stderr.String())
	}
	return nil
}
