package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

// Analyst produces one opinion per cycle. Implementations must respect ctx
// cancellation/deadline; a slow analyst must not block its peers.
type Analyst interface {
	ID() string
	Analyze(ctx context.Context, input Input) (AnalystOpinion, error)
}

// MinSuccessfulAnalysts is the floor below which the cycle surfaces an error
// and the Judge is not invoked (spec.md §4.6/§7).
const MinSuccessfulAnalysts = 2

// Config controls the fan-out timeout.
type Config struct {
	CallTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.CallTimeout <= 0 {
		return 30 * time.Second
	}
	return c.CallTimeout
}

// Failure records one analyst's failed attempt.
type Failure struct {
	AnalystID string
	Err       error
}

// Consult fans out one concurrent call per analyst under a shared deadline.
// Individual timeouts/errors are isolated: the panel never cancels peers and
// returns whatever subset succeeded plus the list of failures. If fewer than
// MinSuccessfulAnalysts succeed, it returns an error and the Judge must not
// be invoked.
func Consult(ctx context.Context, cfg Config, analysts []Analyst, input Input) (map[string]AnalystOpinion, []Failure, error) {
	if len(analysts) == 0 {
		return nil, nil, fmt.Errorf("panel: no analysts configured")
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	type outcome struct {
		id      string
		opinion AnalystOpinion
		err     error
	}

	results := make(chan outcome, len(analysts))
	var wg sync.WaitGroup
	for _, a := range analysts {
		a := a
		wg.Add(1)
		threading.GoSafe(func() {
			defer wg.Done()
			opinion, err := a.Analyze(deadlineCtx, input)
			results <- outcome{id: a.ID(), opinion: opinion, err: err}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	opinions := make(map[string]AnalystOpinion, len(analysts))
	var failures []Failure
	for r := range results {
		if r.err != nil {
			logx.WithContext(ctx).Errorf("panel: analyst %s failed: %v", r.id, r.err)
			failures = append(failures, Failure{AnalystID: r.id, Err: r.err})
			continue
		}
		opinions[r.id] = r.opinion
	}

	if len(opinions) < MinSuccessfulAnalysts {
		return opinions, failures, fmt.Errorf("panel: only %d/%d analysts succeeded, need >= %d",
			len(opinions), len(analysts), MinSuccessfulAnalysts)
	}
	return opinions, failures, nil
}
