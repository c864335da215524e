package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/logging"
)

// Status classifies the outcome of a generation.
type Status int

const (
	StatusOK Status = iota
	// StatusEmpty means the provider answered with no usable text.
	StatusEmpty
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is the typed outcome of Generator.Generate.
type Result struct {
	Status   Status
	Text     string
	Err      error
	Attempts int
}

var errEmpty = errors.New("empty completion")

// Generator wraps a Client with per-call timeouts and retries. Generate never
// panics and never returns an error past its boundary.
type Generator struct {
	Client  Client
	Timeout time.Duration // per attempt; zero means no timeout
	Retries int           // extra attempts after a failure
	Logger  *zap.Logger
}

// NewGenerator builds a Generator with a nop logger.
func NewGenerator(client Client, timeout time.Duration, retries int) *Generator {
	return &Generator{Client: client, Timeout: timeout, Retries: retries, Logger: zap.NewNop()}
}

// Generate runs the prompt. Empty replies are not retried; failures are,
// up to Retries times.
func (g *Generator) Generate(ctx context.Context, prompt string) Result {
	if g == nil || g.Client == nil {
		return Result{Status: StatusFailed, Err: errors.New("no llm client configured")}
	}
	log := logging.OrNop(g.Logger)

	var res Result
	for attempt := 1; attempt <= g.Retries+1; attempt++ {
		res = g.attempt(ctx, prompt)
		res.Attempts = attempt
		if res.Status != StatusFailed {
			return res
		}
		log.Warn("generation failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.Retries+1),
			zap.Error(res.Err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return res
}

func (g *Generator) attempt(ctx context.Context, prompt string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Status: StatusFailed, Err: fmt.Errorf("llm panic: %v", r)}
		}
	}()

	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	resp, err := g.Client.Complete(callCtx, prompt)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Result{Status: StatusEmpty, Err: errEmpty}
	}
	return Result{Status: StatusOK, Text: strings.TrimSpace(resp.Content)}
}
