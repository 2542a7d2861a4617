package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/procedure"
	"github.com/fyrsmithlabs/agentd/internal/tool"
)

// ProcedureRunner is the slice of the procedure executor the orchestrator
// dispatches to when a request classifies as a procedure.
type ProcedureRunner interface {
	RunSync(ctx context.Context, name, version string, payload map[string]any, override time.Duration) (procedure.Execution, error)
}

// Stats are the orchestrator's aggregate counters.
type Stats struct {
	Classified map[Classification]int `json:"classified"`
	Executed   int                    `json:"executed"`
	Escalated  int                    `json:"escalated"`
	Failed     int                    `json:"failed"`
	PlansRun   int                    `json:"plans_run"`
}

// Orchestrator classifies requests and drives their execution.
type Orchestrator struct {
	catalog  procedure.Store
	procs    ProcedureRunner
	tools    tool.Invoker
	routines []Routine
	logger   *zap.Logger
	metrics  *orchestratorMetrics

	mu    sync.Mutex
	stats Stats
}

// New creates an orchestrator. The catalog and tool surface are required;
// procs may be nil when no procedure executor is wired, in which case
// procedure-classified requests escalate instead of executing.
func New(catalog procedure.Store, procs ProcedureRunner, tools tool.Invoker, routines []Routine, logger *zap.Logger) (*Orchestrator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("procedure catalog is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool invoker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		catalog:  catalog,
		procs:    procs,
		tools:    tools,
		routines: routines,
		logger:   logger.Named("orchestrator"),
		metrics:  newOrchestratorMetrics(logger),
		stats:    Stats{Classified: make(map[Classification]int)},
	}, nil
}

// Classify buckets a description without side effects beyond counters.
// Matching order: exact procedure name, fuzzy procedure name, routine
// keywords, then needs_reasoning.
func (o *Orchestrator) Classify(ctx context.Context, description string) (Decision, error) {
	if strings.TrimSpace(description) == "" {
		return Decision{}, fmt.Errorf("description is required")
	}

	decision := o.classify(ctx, description)

	o.mu.Lock()
	o.stats.Classified[decision.Classification]++
	o.mu.Unlock()
	o.metrics.recordClassified(ctx, decision.Classification)

	o.logger.Debug("request classified",
		zap.String("classification", string(decision.Classification)),
		zap.String("reason", decision.Reason))
	return decision, nil
}

func (o *Orchestrator) classify(ctx context.Context, description string) Decision {
	tokens := tokenize(description)

	if name, exact := o.matchProcedure(ctx, description, tokens); name != "" {
		reason := fmt.Sprintf("description matches procedure %q", name)
		if !exact {
			reason = fmt.Sprintf("description mentions procedure %q", name)
		}
		return Decision{
			Classification: ClassProcedure,
			Reason:         reason,
			Procedure:      name,
		}
	}

	if routine := o.matchRoutine(tokens); routine != nil {
		return Decision{
			Classification: ClassOrchestrated,
			Reason:         fmt.Sprintf("description decomposes into routine %q", routine.Name),
			Routine:        routine.Name,
		}
	}

	return Decision{
		Classification: ClassNeedsReasoning,
		Reason:         "no procedure or routine matches; judgment required",
	}
}

// matchProcedure checks the catalog: exact name match first, then a fuzzy
// match where every token of a procedure's name appears in the description.
// Ambiguous fuzzy matches pick the longest name so the most specific
// procedure wins deterministically.
func (o *Orchestrator) matchProcedure(ctx context.Context, description string, tokens map[string]bool) (name string, exact bool) {
	procs, err := o.catalog.List(ctx)
	if err != nil {
		o.logger.Warn("catalog unavailable during classification", zap.Error(err))
		return "", false
	}

	normalized := strings.Join(tokenList(tokens), " ")
	var fuzzy []string
	for _, p := range procs {
		procTokens := strings.Split(strings.ToLower(p.Name), "_")
		if normalized == strings.Join(procTokens, " ") {
			return p.Name, true
		}
		all := true
		for _, t := range procTokens {
			if !tokens[t] {
				all = false
				break
			}
		}
		if all {
			fuzzy = append(fuzzy, p.Name)
		}
	}
	if len(fuzzy) == 0 {
		return "", false
	}
	sort.Slice(fuzzy, func(i, j int) bool {
		if len(fuzzy[i]) != len(fuzzy[j]) {
			return len(fuzzy[i]) > len(fuzzy[j])
		}
		return fuzzy[i] < fuzzy[j]
	})
	return fuzzy[0], false
}

// matchRoutine returns the first routine whose keywords all appear in the
// description. Routines are checked in registration order.
func (o *Orchestrator) matchRoutine(tokens map[string]bool) *Routine {
	for i := range o.routines {
		r := &o.routines[i]
		if len(r.Keywords) == 0 || len(r.Steps) == 0 {
			continue
		}
		all := true
		for _, kw := range r.Keywords {
			if !tokens[strings.ToLower(kw)] {
				all = false
				break
			}
		}
		if all {
			return r
		}
	}
	return nil
}

// Execute runs a single ad-hoc request, dispatching on its classification.
// A needs_reasoning request returns an escalated outcome with a nil error.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Outcome, error) {
	decision, err := o.Classify(ctx, req.Description)
	if err != nil {
		return Outcome{}, err
	}

	switch decision.Classification {
	case ClassProcedure:
		if o.procs == nil {
			return o.escalate(ctx, decision, req, "no procedure executor is wired"), nil
		}
		record, err := o.procs.RunSync(ctx, decision.Procedure, procedure.VersionLatest, req.Context, req.Timeout)
		if err != nil {
			o.recordExecuted(ctx, false)
			return Outcome{Classification: decision.Classification}, err
		}
		o.recordExecuted(ctx, true)
		return Outcome{
			Classification: decision.Classification,
			Result:         record.Result,
		}, nil

	case ClassOrchestrated:
		routine := o.routineByName(decision.Routine)
		if routine == nil {
			return Outcome{}, fmt.Errorf("routine %q vanished between classify and execute", decision.Routine)
		}
		result, err := o.ExecutePlan(ctx, routine.Steps, req.Timeout)
		if err != nil {
			o.recordExecuted(ctx, false)
			return Outcome{Classification: decision.Classification, Result: result}, err
		}
		o.recordExecuted(ctx, true)
		return Outcome{
			Classification: decision.Classification,
			Result:         result,
		}, nil

	default:
		return o.escalate(ctx, decision, req, decision.Reason), nil
	}
}

// escalate builds the hand-off outcome: reason plus the original request so
// a higher-level reasoner can proceed manually.
func (o *Orchestrator) escalate(ctx context.Context, decision Decision, req Request, reason string) Outcome {
	o.mu.Lock()
	o.stats.Escalated++
	o.mu.Unlock()
	o.metrics.recordOutcome(ctx, "escalated")

	handoff := map[string]any{
		"description": req.Description,
	}
	if len(req.Context) > 0 {
		handoff["context"] = req.Context
	}

	o.logger.Info("request escalated",
		zap.String("reason", reason),
		zap.String("description", req.Description))
	return Outcome{
		Classification: decision.Classification,
		Escalated:      true,
		Reason:         reason,
		Context:        handoff,
	}
}

func (o *Orchestrator) routineByName(name string) *Routine {
	for i := range o.routines {
		if o.routines[i].Name == name {
			return &o.routines[i]
		}
	}
	return nil
}

func (o *Orchestrator) recordExecuted(ctx context.Context, ok bool) {
	o.mu.Lock()
	o.stats.Executed++
	if !ok {
		o.stats.Failed++
	}
	o.mu.Unlock()

	outcome := "completed"
	if !ok {
		outcome = "failed"
	}
	o.metrics.recordOutcome(ctx, outcome)
}

// Status returns a snapshot of the aggregate counters.
func (o *Orchestrator) Status() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.stats
	out.Classified = make(map[Classification]int, len(o.stats.Classified))
	for k, v := range o.stats.Classified {
		out.Classified[k] = v
	}
	return out
}

// tokenize lowercases and splits a description into a token set.
func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	return tokens
}

func tokenList(tokens map[string]bool) []string {
	out := make([]string, 0, len(tokens))
	for t := range tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
