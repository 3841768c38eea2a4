package pipeline

import (
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Option configures Pipeline.
type Option interface {
	apply(*Pipeline) error
}

type optionFunc func(*Pipeline) error

func (f optionFunc) apply(p *Pipeline) error {
	return f(p)
}

// WithPrettyLogging configures Pipeline to print human friendly logs.
func WithPrettyLogging() Option {
	return optionFunc(func(p *Pipeline) error {
		p.prettyLogging = true
		return nil
	})
}

// WithLogLevel configures the log level, e.g. "debug".
func WithLogLevel(level string) Option {
	return optionFunc(func(p *Pipeline) error {
		lv, err := zerolog.ParseLevel(level)
		if err != nil {
			return xerrors.Errorf("invalid log level %q: %w", level, err)
		}
		p.logLevel = lv
		return nil
	})
}

// WithNotifier configures a notifier for run results.
func WithNotifier(n Notifier) Option {
	return optionFunc(func(p *Pipeline) error {
		p.notifier = n
		return nil
	})
}

// WithMetrics configures where run metrics are recorded.
func WithMetrics(m *RunMetrics) Option {
	return optionFunc(func(p *Pipeline) error {
		p.metrics = m
		return nil
	})
}

func withObjectStore(s objectStore) Option {
	return optionFunc(func(p *Pipeline) error {
		p.store = s
		return nil
	})
}

func withWarehouse(w warehouse) Option {
	return optionFunc(func(p *Pipeline) error {
		p.wh = w
		return nil
	})
}

func withCommandRunner(r commandRunner) Option {
	return optionFunc(func(p *Pipeline) error {
		p.runCommand = r
		return nil
	})
}
