// Package opa evaluates the break rules written in Rego.
package opa

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policies/*.rego
var builtin embed.FS

const decisionQuery = "data.breakwatch.breaks.decision"

// Action is the state change a decision asks for
type Action string

const (
	ActionNone          Action = "none"
	ActionMilestone     Action = "milestone"
	ActionBreakStart    Action = "break_start"
	ActionBreakEnforce  Action = "break_enforce"
	ActionBreakComplete Action = "break_complete"
)

// Milestone is a checkpoint passed to the rules
type Milestone struct {
	ID      int
	Seconds float64
}

// Input is the usage state a decision is made from
type Input struct {
	SessionUsage   float64 // seconds
	BreakStart     int64   // epoch milliseconds, 0 when no break is recorded
	Now            int64   // epoch milliseconds
	BreakTime      float64 // seconds
	MaxSessionTime float64 // seconds
	Milestones     []Milestone
	Notified       []int
}

// Decision is the result of the decision query
type Decision struct {
	Action      Action `json:"action"`
	MilestoneID int    `json:"milestone_id"`
}

// Engine wraps a prepared Rego query for break decisions
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	query rego.PreparedEvalQuery

	// Policy sources by file name
	modules map[string]string
}

// NewEngine loads the rules from policyDir, or the built-in rules when
// policyDir is empty, and prepares the decision query.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
		modules:   make(map[string]string),
	}

	if err := e.loadPolicies(); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	if err := e.prepareQuery(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "builtin"
	}
	e.logger.Debug().Str("policy_dir", source).Int("modules", len(e.modules)).Msg("OPA engine initialized")

	return e, nil
}

// loadPolicies reads and parses every .rego file
func (e *Engine) loadPolicies() error {
	var (
		fsys  fs.FS = builtin
		files []string
		err   error
	)
	if e.policyDir != "" {
		fsys = os.DirFS(e.policyDir)
		files, err = fs.Glob(fsys, "*.rego")
	} else {
		files, err = fs.Glob(fsys, "policies/*.rego")
	}
	if err != nil {
		return fmt.Errorf("failed to glob policy files: %w", err)
	}

	if len(files) == 0 {
		return fmt.Errorf("no policy files found in %s", e.policyDir)
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		name := filepath.Join(e.policyDir, file)
		module, err := ast.ParseModule(name, string(content))
		if err != nil {
			return fmt.Errorf("failed to parse policy file %s: %w", name, err)
		}

		e.modules[name] = string(content)
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return nil
}

func (e *Engine) prepareQuery() error {
	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, src := range e.modules {
		opts = append(opts, rego.Module(name, src))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare decision query: %w", err)
	}

	e.query = query
	return nil
}

// Decide evaluates the rules against in
func (e *Engine) Decide(ctx context.Context, in Input) (Decision, error) {
	var decision Decision
	startTime := time.Now()

	results, err := e.query.Eval(ctx, rego.EvalInput(in.document()))
	if err != nil {
		return decision, fmt.Errorf("decision query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Decision query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision, fmt.Errorf("no results from decision query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return decision, fmt.Errorf("failed to marshal decision: %w", err)
	}
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return decision, fmt.Errorf("failed to unmarshal decision: %w", err)
	}

	switch decision.Action {
	case ActionNone, ActionBreakStart, ActionBreakEnforce, ActionBreakComplete:
	case ActionMilestone:
		if decision.MilestoneID <= 0 {
			return decision, fmt.Errorf("milestone decision without a milestone id")
		}
	default:
		return decision, fmt.Errorf("unknown decision action %q", decision.Action)
	}

	return decision, nil
}

func (in Input) document() map[string]interface{} {
	milestones := make([]interface{}, len(in.Milestones))
	for i, m := range in.Milestones {
		milestones[i] = map[string]interface{}{
			"id":      m.ID,
			"seconds": m.Seconds,
		}
	}

	notified := make([]interface{}, len(in.Notified))
	for i, id := range in.Notified {
		notified[i] = id
	}

	return map[string]interface{}{
		"session_usage":    in.SessionUsage,
		"break_start":      in.BreakStart,
		"now":              in.Now,
		"break_time":       in.BreakTime,
		"max_session_time": in.MaxSessionTime,
		"milestones":       milestones,
		"notified":         notified,
	}
}
