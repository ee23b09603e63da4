// Package agents implements the token analysis agents and the manager that
// runs them. Each agent wraps one kind of analysis (technical, sentiment,
// onchain) behind a common interface so callers can run any subset with
// uniform results and per-agent error isolation.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/agents/token"
)

// ErrUnknownAgent is returned when a run names an agent that was never
// registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Request identifies what to analyze. Token accepts a coin id, a ticker
// symbol, a contract address, or a coin page URL; agents resolve it as
// needed. Address and Chain are only meaningful to the onchain agent, and
// Timeframe only to the technical agent.
type Request struct {
	Token     string `json:"token"`
	Address   string `json:"address,omitempty"`
	Chain     string `json:"chain,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

// Result is one agent's completed analysis. Data holds the agent-specific
// report and marshals into the stored analysis row as-is.
type Result struct {
	Agent       string      `json:"agent"`
	Token       string      `json:"token"`
	Symbol      string      `json:"symbol,omitempty"`
	Data        interface{} `json:"data"`
	GeneratedAt time.Time   `json:"generated_at"`
	DurationMS  int64       `json:"duration_ms"`
}

// Agent is one analysis strategy.
type Agent interface {
	Name() string

	// Validate reports whether the agent can work on the request at all,
	// before any upstream call is made.
	Validate(req Request) error

	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Resolver maps free-form token references to canonical coin ids.
type Resolver interface {
	Resolve(ctx context.Context, input string) (*token.Resolution, error)
}

// ValidationError marks a request an agent refuses to work on. Handlers map
// it to an unprocessable-entity response instead of a server error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Manager holds the registered agents and runs them concurrently. One
// failing agent never aborts the others; its error lands in the report
// keyed by agent name.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
}

func NewManager(agents ...Agent) *Manager {
	m := &Manager{agents: make(map[string]Agent)}
	for _, a := range agents {
		m.Register(a)
	}
	return m
}

// Register adds an agent, replacing any previous one with the same name.
func (m *Manager) Register(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := strings.ToLower(a.Name())
	if _, exists := m.agents[name]; !exists {
		m.order = append(m.order, name)
	}
	m.agents[name] = a
}

// Agent returns the named agent.
func (m *Manager) Agent(name string) (Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

// Names lists the registered agents in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Report is the outcome of one Run across the selected agents.
type Report struct {
	Token      string             `json:"token"`
	Results    map[string]*Result `json:"results"`
	Errors     map[string]string  `json:"errors,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMS int64              `json:"duration_ms"`
}

// Run executes the named agents concurrently, or every registered agent
// when names is empty. It returns an error only when no agent produced a
// result at all; partial failures surface in Report.Errors.
func (m *Manager) Run(ctx context.Context, req Request, names ...string) (*Report, error) {
	selected := names
	if len(selected) == 0 {
		selected = m.Names()
	}

	report := &Report{
		Token:     req.Token,
		Results:   make(map[string]*Result),
		Errors:    make(map[string]string),
		StartedAt: time.Now().UTC(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, raw := range selected {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		agent, err := m.Agent(name)
		if err != nil {
			report.Errors[name] = err.Error()
			continue
		}

		wg.Add(1)
		go func(name string, agent Agent) {
			defer wg.Done()
			res, err := runOne(ctx, agent, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors[name] = err.Error()
				return
			}
			report.Results[name] = res
		}(name, agent)
	}
	wg.Wait()

	report.DurationMS = time.Since(report.StartedAt).Milliseconds()
	if len(report.Results) == 0 && len(report.Errors) > 0 {
		return report, fmt.Errorf("all agents failed for %q", req.Token)
	}
	return report, nil
}

func runOne(ctx context.Context, agent Agent, req Request) (*Result, error) {
	if err := agent.Validate(req); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := agent.Analyze(ctx, req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("agent", agent.Name()).
			Str("token", req.Token).
			Msg("Agent analysis failed")
		return nil, err
	}

	res.Agent = agent.Name()
	if res.Token == "" {
		res.Token = req.Token
	}
	res.GeneratedAt = time.Now().UTC()
	res.DurationMS = time.Since(start).Milliseconds()

	log.Debug().
		Str("agent", agent.Name()).
		Str("token", res.Token).
		Int64("duration_ms", res.DurationMS).
		Msg("Agent analysis complete")
	return res, nil
}
