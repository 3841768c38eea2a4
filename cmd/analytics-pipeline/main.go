package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	pipeline "github.com/cyse-dev/modern-analytics-stack"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		once       = flag.Bool("once", false, "run the pipeline once and exit")
		date       = flag.String("date", "", "logical date of a -once run (YYYY-MM-DD), today when empty")
	)
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	if logger, err = newLogger(cfg.Log); err != nil {
		logger.Error().Err(err).Msg("invalid log config")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	if err := run(ctx, cfg, *once, *date); err != nil {
		logger.Error().Err(err).Msg("analytics pipeline exited with error")
		stop()
		os.Exit(1)
	}
}

func newLogger(c pipeline.LogConfig) (zerolog.Logger, error) {
	var w io.Writer = os.Stderr
	if c.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	l := zerolog.New(w).With().Timestamp().Logger()

	if c.Level == "" {
		return l, nil
	}

	lv, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return l, err
	}

	return l.Level(lv), nil
}

func run(ctx context.Context, cfg *pipeline.Config, once bool, date string) error {
	opts := []pipeline.Option{pipeline.WithLogLevel(cfg.Log.Level)}
	if cfg.Log.Pretty {
		opts = append(opts, pipeline.WithPrettyLogging())
	}
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		opts = append(opts, pipeline.WithNotifier(&pipeline.SlackNotifier{
			Token:   cfg.Slack.Token,
			Channel: cfg.Slack.Channel,
		}))
	}

	p, err := pipeline.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	loc := p.Location()

	if once {
		logical := pipeline.LogicalDate(time.Now(), loc)
		if date != "" {
			if logical, err = pipeline.ParseLogicalDate(date, loc); err != nil {
				return err
			}
		}

		_, err = p.Run(ctx, logical)
		return err
	}

	s, err := pipeline.NewScheduler(p, cfg.Schedule.Cron, loc)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           pipeline.NewHandler(ctx, s, p.Metrics()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Start(ctx)
	})

	g.Go(func() error {
		zerolog.Ctx(ctx).Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
