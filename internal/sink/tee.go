package sink

import (
	"sync"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/hashicorp/go-multierror"
)

type tee struct {
	sinks []tail.Sink
	once  sync.Once
	err   error
}

// Tee returns a sink that writes to all of sinks. A failing sink does not
// keep the others from receiving content.
func Tee(sinks ...tail.Sink) tail.Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &tee{sinks: sinks}
}

func (t *tee) Write(text string) error {
	var result *multierror.Error
	for _, s := range t.sinks {
		if err := s.Write(text); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (t *tee) Close() error {
	t.once.Do(func() {
		var result *multierror.Error
		for _, s := range t.sinks {
			if err := s.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		t.err = result.ErrorOrNil()
	})
	return t.err
}
