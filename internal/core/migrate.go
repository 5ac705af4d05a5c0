package core

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lexgraph/internal/errors"
	"lexgraph/internal/logger"
	"lexgraph/pkg/domain"
)

// MigrationReport summarizes a completed migration.
type MigrationReport struct {
	Source   string
	Target   string
	Entities int
	Duration time.Duration
}

// Migrate copies every live entity from source into target. The target is
// reinitialized while the source is read, then written in one WriteAll.
// Identities are compared afterwards; any difference fails with
// domain.ErrMigrationIntegrity.
func Migrate(ctx context.Context, source, target domain.Backend, log *zap.SugaredLogger) (MigrationReport, error) {
	log = logger.OrGlobal(log).With(logger.FieldOperation, "migrate")
	report := MigrationReport{Source: source.Kind(), Target: target.Kind()}
	started := time.Now()

	var records []domain.EntityRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = source.ReadAll(gctx, domain.ScopeAll)
		return errors.Wrapf(err, "read %s source", source.Kind())
	})
	g.Go(func() error {
		return errors.Wrapf(target.InitializeEmpty(gctx), "initialize %s target", target.Kind())
	})
	if err := g.Wait(); err != nil {
		return report, err
	}
	log.Infow("source read", "source", report.Source, logger.FieldCount, len(records))

	if err := target.WriteAll(ctx, records); err != nil {
		return report, errors.Wrapf(err, "write %s target", target.Kind())
	}
	got, err := target.Identities(ctx)
	if err != nil {
		return report, errors.Wrapf(err, "list %s target identities", target.Kind())
	}
	want := domain.IdentitiesOf(records)
	if missing, extra := domain.DiffIdentities(want, got); len(missing) > 0 || len(extra) > 0 || len(want) != len(got) {
		return report, domain.MigrationIntegrityError(len(want), len(got), missing, extra)
	}
	report.Entities = len(records)
	report.Duration = time.Since(started)
	log.Infow("migration complete",
		"source", report.Source,
		"target", report.Target,
		logger.FieldCount, report.Entities,
		logger.FieldDuration, report.Duration.Milliseconds(),
	)
	return report, nil
}
