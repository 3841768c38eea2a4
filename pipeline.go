package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
)

// Pipeline ingests a tabular file into the warehouse: validate, stage,
// provision, load, check quality and build transformation models.
type Pipeline struct {
	cfg *Config

	logger        zerolog.Logger
	prettyLogging bool
	logLevel      zerolog.Level

	notifier   Notifier
	metrics    *RunMetrics
	store      objectStore
	wh         warehouse
	runCommand commandRunner

	validator   *Validator
	stager      *Stager
	provisioner *DatasetProvisioner
	loader      *Loader
	checker     *QualityChecker
	transformer *Transformer
	models      []Model
	location    *time.Location

	// loadLock serialises provision and load across runs of this process.
	loadLock *semaphore.Weighted
	closers  []func() error
}

// New builds a Pipeline. Cloud clients are created from the first credential
// file found in cfg.CredentialPaths. Transformation models are discovered
// once, here.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:      cfg,
		logLevel: zerolog.InfoLevel,
		loadLock: semaphore.NewWeighted(1),
	}

	for _, o := range opts {
		if err := o.apply(p); err != nil {
			return nil, err
		}
	}

	var w io.Writer = os.Stderr
	if p.prettyLogging {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	p.logger = zerolog.New(w).Level(p.logLevel).With().Timestamp().Logger()
	ctx = p.logger.WithContext(ctx)

	if p.metrics == nil {
		p.metrics = NewRunMetrics(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job)
	}

	if err := p.buildClients(ctx); err != nil {
		p.Close()
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		p.Close()
		return nil, xerrors.Errorf("invalid timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	p.location = loc

	v, err := NewValidator(cfg.SourceEncoding, SchemaColumns(UserEventsSchema))
	if err != nil {
		p.Close()
		return nil, err
	}
	p.validator = v

	p.stager = &Stager{
		Bucket:   cfg.Bucket,
		Prefix:   cfg.StagingPrefix,
		Location: loc,
		store:    p.store,
	}
	p.provisioner = &DatasetProvisioner{
		Dataset:     cfg.Dataset,
		Location:    cfg.Location,
		Description: defaultDatasetDescription,
		wh:          p.wh,
	}
	p.loader = &Loader{
		Project:  cfg.ProjectID,
		Dataset:  cfg.Dataset,
		Table:    cfg.Table,
		Schema:   UserEventsSchema,
		Location: cfg.Location,
		Timeout:  cfg.LoadTimeout,
		wh:       p.wh,
	}
	p.checker = &QualityChecker{
		Table: p.loader.TableID(),
		wh:    p.wh,
	}
	p.transformer = &Transformer{
		Executable:  cfg.DBT.Executable,
		ProjectDir:  cfg.DBT.ProjectDir,
		ProfilesDir: cfg.DBT.ProfilesDir,
		Target:      cfg.DBT.Target,
		run:         p.runCommand,
	}

	models, err := DiscoverModels(cfg.DBT.ManifestPath, cfg.DBT.SelectTag)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.models = models
	p.logger.Info().Int("models", len(models)).Str("manifest", cfg.DBT.ManifestPath).Msg("transformation models discovered")

	return p, nil
}

func (p *Pipeline) buildClients(ctx context.Context) error {
	if p.store != nil && p.wh != nil {
		return nil
	}

	creds, err := ResolveCredentials(p.cfg.CredentialPaths)
	if err != nil {
		return err
	}
	p.logger.Info().Str("path", creds.Path).Msg("using credentials")

	if p.store == nil {
		s, err := newDefaultObjectStore(ctx, p.cfg.ProjectID, creds.ClientOptions()...)
		if err != nil {
			return err
		}
		p.store = s
		p.closers = append(p.closers, s.close)
	}

	if p.wh == nil {
		w, err := newDefaultWarehouse(ctx, p.cfg.ProjectID, p.cfg.Location, creds.ClientOptions()...)
		if err != nil {
			return err
		}
		p.wh = w
		p.closers = append(p.closers, w.close)
	}

	return nil
}

// Close releases the cloud clients.
func (p *Pipeline) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}

// Models returns the transformation models built after each load.
func (p *Pipeline) Models() []Model {
	return p.models
}

// Location returns the time zone of logical dates and staging keys.
func (p *Pipeline) Location() *time.Location {
	return p.location
}

// Metrics returns the run metrics of the pipeline.
func (p *Pipeline) Metrics() *RunMetrics {
	return p.metrics
}

// Run executes the pipeline once for logicalDate. Every stage must succeed
// for the next to start; the returned report describes how far it got.
func (p *Pipeline) Run(ctx context.Context, logicalDate time.Time) (*Report, error) {
	runID := uuid.NewString()

	l := p.logger.With().
		Str("run_id", runID).
		Str("logical_date", logicalDate.Format(logicalDateLayout)).
		Logger()
	ctx = l.WithContext(withStartedTime(withRun(ctx, runID, logicalDate)))

	l.Info().Msg("run started")

	r := newReport(runID, logicalDate)
	if err := p.run(ctx, r); err != nil {
		p.finish(ctx, r)
		return r, err
	}

	r.succeed()
	p.finish(ctx, r)

	return r, nil
}

func (p *Pipeline) run(ctx context.Context, r *Report) error {
	var src *Source
	err := p.step(ctx, r, StageDiscover, func(ctx context.Context) (err error) {
		src, err = p.discover()
		return err
	})
	if err != nil {
		return err
	}

	err = p.step(ctx, r, StageValidate, func(ctx context.Context) (err error) {
		r.Source, err = p.validator.Validate(ctx, src)
		return err
	})
	if err != nil {
		return err
	}

	err = p.step(ctx, r, StageStage, func(ctx context.Context) error {
		rc, err := r.Source.Open()
		if err != nil {
			return err
		}
		defer rc.Close()

		md := map[string]string{
			"run_id":          r.RunID,
			"logical_date":    r.LogicalDate,
			"source_checksum": r.Source.Checksum,
		}
		r.Staged, err = p.stager.Stage(ctx, p.cfg.LogicalName, rc, md)
		return err
	})
	if err != nil {
		return err
	}

	if err := p.provisionAndLoad(ctx, r); err != nil {
		return err
	}

	err = p.step(ctx, r, StageQuality, func(ctx context.Context) (err error) {
		r.Quality, err = p.checker.Check(ctx)
		return err
	})
	if err != nil {
		return err
	}

	return p.step(ctx, r, StageTransform, func(ctx context.Context) error {
		for _, m := range p.models {
			r.Models = append(r.Models, m.Name)
		}
		return p.transformer.Build(ctx, p.models)
	})
}

func (p *Pipeline) provisionAndLoad(ctx context.Context, r *Report) error {
	if err := p.loadLock.Acquire(ctx, 1); err != nil {
		r.fail(StageProvision, err)
		return xerrors.Errorf("failed to acquire load lock: %w", err)
	}
	defer p.loadLock.Release(1)

	err := p.step(ctx, r, StageProvision, func(ctx context.Context) error {
		created, err := p.provisioner.Ensure(ctx)
		if err != nil {
			return err
		}
		r.Dataset = &DatasetResult{
			ID:      fmt.Sprintf("%s.%s", p.cfg.ProjectID, p.cfg.Dataset),
			Created: created,
		}
		return nil
	})
	if err != nil {
		return err
	}

	return p.step(ctx, r, StageLoad, func(ctx context.Context) (err error) {
		r.Load, err = p.loader.Load(ctx, r.Staged.URI)
		return err
	})
}

func (p *Pipeline) discover() (*Source, error) {
	if p.cfg.SourcePath != "" {
		return SourceAt(p.cfg.SourcePath)
	}
	return LatestSource(p.cfg.DataDir)
}

func (p *Pipeline) step(ctx context.Context, r *Report, stage string, f func(context.Context) error) error {
	l := zerolog.Ctx(ctx).With().Str("stage", stage).Logger()
	ctx = l.WithContext(ctx)

	start := time.Now()
	err := f(ctx)
	p.metrics.observeStage(stage, err, time.Since(start))

	if err != nil {
		r.fail(stage, err)
		return xerrors.Errorf("failed at %s stage: %w", stage, err)
	}

	l.Debug().Dur("elapsed", time.Since(start)).Msg("stage completed")

	return nil
}

func (p *Pipeline) finish(ctx context.Context, r *Report) {
	l := zerolog.Ctx(ctx)

	if started, ok := startedTimeFrom(ctx); ok {
		r.StartedAt = started
	}

	if r.Status == StatusSucceeded {
		l.Info().Object("report", r).Msg("run finished")
	} else {
		l.Error().Object("report", r).Msg("run failed")
	}

	p.metrics.observeRun(r)
	if err := p.metrics.Push(ctx); err != nil {
		l.Error().Err(err).Msg("failed to push metrics")
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, r); err != nil {
			l.Error().Err(err).Msg("failed to notify")
		}
	}
}
