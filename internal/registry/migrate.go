package registry

import (
	"context"
	"slices"
	"time"

	"github.com/sells-group/contractml/internal/model"
)

// ExecuteRequest describes an execution that may migrate its payload.
type ExecuteRequest struct {
	Domain  string
	Version string
	Payload model.Payload
	// TargetVersion defaults to the domain's latest version.
	TargetVersion string
	// RequireMigration turns a missing or failed migration into a
	// *model.MigrationError instead of executing the unmigrated payload.
	RequireMigration bool
}

// ExecuteWithMigration migrates req.Payload from req.Version to the target
// version when they differ, then runs the target contract. The result
// metadata always carries the migration provenance.
func (r *Registry) ExecuteWithMigration(ctx context.Context, req ExecuteRequest) (*model.ExecutionResult, error) {
	start := time.Now()
	rec := &model.ExecutionRecord{
		Domain:        req.Domain,
		SourceVersion: req.Version,
		TargetVersion: req.TargetVersion,
	}

	res, err := r.executeWithMigration(ctx, req, rec)
	r.finish(ctx, rec, res, err, start)
	return res, err
}

func (r *Registry) executeWithMigration(ctx context.Context, req ExecuteRequest, rec *model.ExecutionRecord) (*model.ExecutionResult, error) {
	target := req.TargetVersion
	if target == "" {
		latest, err := r.LatestVersion(req.Domain)
		if err != nil {
			return nil, err
		}
		target = latest
		rec.TargetVersion = latest
	}

	if err := r.requireVersion(req.Domain, req.Version); err != nil {
		return nil, err
	}

	payload, outcome, err := r.Migrate(ctx, MigrateRequest{
		Domain:  req.Domain,
		From:    req.Version,
		To:      target,
		Payload: req.Payload,
		Require: req.RequireMigration,
	})
	rec.Migrated = outcome.Migrated()
	rec.MigrationStatus = outcome.Status
	if err != nil {
		return nil, err
	}

	res, err := r.execute(ctx, req.Domain, target, payload)
	if err != nil {
		return nil, err
	}

	res.Metadata[model.MetaSourceVersion] = req.Version
	res.Metadata[model.MetaTargetVersion] = target
	res.Metadata[model.MetaMigrated] = outcome.Migrated()
	res.Metadata[model.MetaMigrationStatus] = string(outcome.Status)
	res.Metadata[model.MetaMigrationPathFound] = outcome.PathFound()
	res.Metadata[model.MetaMigrationErrors] = nonNil(outcome.Errors)
	if len(outcome.Path) > 0 {
		res.Metadata[model.MetaMigrationPath] = outcome.Path
	}
	return res, nil
}

// MigrateRequest describes a standalone migration.
type MigrateRequest struct {
	Domain  string
	From    string
	To      string
	Payload model.Payload
	// Require fails with *model.MigrationError when no path applies.
	Require bool
}

// Migrate transforms a payload between versions of one domain.
func (r *Registry) Migrate(ctx context.Context, req MigrateRequest) (model.Payload, model.MigrationOutcome, error) {
	defer r.opts.Metrics.Time("migrate")()

	var (
		out     model.Payload
		outcome model.MigrationOutcome
		err     error
	)
	if req.Require {
		out, outcome, err = r.engine.MigrateStrict(ctx, req.Domain, req.From, req.To, req.Payload)
	} else {
		out, outcome = r.engine.Migrate(ctx, req.Domain, req.From, req.To, req.Payload)
	}
	r.opts.Metrics.IncrementMigration(req.Domain, string(outcome.Status))
	return out, outcome, err
}

// requireVersion fails with NotFound when version is not on disk for domain.
func (r *Registry) requireVersion(domain, version string) error {
	versions, err := r.AvailableVersions(domain)
	if err != nil {
		return err
	}
	if !slices.Contains(versions, version) {
		return &model.NotFoundError{Domain: domain, Version: version}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
