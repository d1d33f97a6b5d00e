package perception

import (
	"context"
	"fmt"
	"strings"

	"medintake/internal/logging"
	"medintake/internal/session"
)

// Chain tries extractors in order. The first successful result carrying data
// wins; when none carries data the last successful result is returned, and
// when every link fails the last failure is.
type Chain struct {
	links []Extractor
}

// NewChain builds a chain. Nil links are skipped.
func NewChain(links ...Extractor) *Chain {
	c := &Chain{}
	for _, l := range links {
		if l != nil {
			c.links = append(c.links, l)
		}
	}
	return c
}

// Name joins the link names, e.g. "openai>rules".
func (c *Chain) Name() string {
	names := make([]string, len(c.links))
	for i, l := range c.links {
		names[i] = l.Name()
	}
	return strings.Join(names, ">")
}

// Extract implements Extractor.
func (c *Chain) Extract(ctx context.Context, message string, sc *session.Context) (Result, error) {
	if len(c.links) == 0 {
		err := fmt.Errorf("no extractors configured")
		return Failed("chain", err), err
	}

	var (
		lastOK  *Result
		lastErr error
		lastBad Result
	)
	for _, l := range c.links {
		if err := ctx.Err(); err != nil {
			return Failed(c.Name(), err), err
		}
		res, err := l.Extract(ctx, message, sc)
		if err != nil || !res.Success {
			if err == nil {
				err = fmt.Errorf("%s: %s", l.Name(), res.Err)
			}
			logging.PerceptionDebug("[chain] %s failed, trying next: %v", l.Name(), err)
			lastBad, lastErr = res, err
			continue
		}
		if len(res.Data) > 0 {
			return res, nil
		}
		r := res
		lastOK = &r
	}
	if lastOK != nil {
		return *lastOK, nil
	}
	return lastBad, lastErr
}
