package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"call-insights/pkg/logger"
)

// Fanout sends each event to every sink concurrently. A failing sink never
// prevents delivery to the others; all failures are joined into one error.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	out := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

// Sinks returns the configured sink names.
func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (f *Fanout) Publish(ctx context.Context, e Event) error {
	log := logger.From(ctx)
	if len(f.sinks) == 0 {
		log.Debug("no notification sinks configured", "call_id", e.Call.ID)
		return nil
	}

	errs := make([]error, len(f.sinks))
	var wg sync.WaitGroup
	for i, s := range f.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			if err := s.Send(ctx, e); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				log.Error("notification failed", "sink", s.Name(), "call_id", e.Call.ID, "err", err)
				return
			}
			log.Info("notification sent", "sink", s.Name(), "call_id", e.Call.ID)
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}
