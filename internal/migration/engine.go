// Package migration moves payloads between schema versions of a domain,
// using direct scripts, chains of adjacent scripts, or passthrough when no
// path exists.
package migration

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/model"
)

// VersionSource lists the schema versions known for a domain.
type VersionSource interface {
	Versions(domain string) ([]string, error)
}

// Engine resolves and applies migrations.
type Engine struct {
	scripts  *Scripts
	versions VersionSource
}

// NewEngine returns an Engine over scripts, ordering versions from src.
func NewEngine(scripts *Scripts, src VersionSource) *Engine {
	if scripts == nil {
		scripts = NewScripts()
	}
	return &Engine{scripts: scripts, versions: src}
}

// Scripts returns the engine's script table.
func (e *Engine) Scripts() *Scripts {
	return e.scripts
}

// AvailableVersions returns the domain's versions in ascending order.
func (e *Engine) AvailableVersions(domain string) ([]string, error) {
	raw, err := e.versions.Versions(domain)
	if err != nil {
		return nil, err
	}
	return Sort(raw), nil
}

// LatestVersion returns the last version in order, or ok=false when the
// domain has none.
func (e *Engine) LatestVersion(domain string) (string, bool, error) {
	versions, err := e.AvailableVersions(domain)
	if err != nil || len(versions) == 0 {
		return "", false, err
	}
	return versions[len(versions)-1], true, nil
}

// NeedsMigration reports whether from strictly precedes to.
func (e *Engine) NeedsMigration(from, to string) bool {
	return NeedsMigration(from, to)
}

// Migrate transforms payload from one version to another. It never fails:
// when no path applies it returns the input unchanged and says so in the
// outcome. Scripts receive copies, so payload is never mutated.
func (e *Engine) Migrate(ctx context.Context, domain, from, to string, payload model.Payload) (model.Payload, model.MigrationOutcome) {
	out := model.MigrationOutcome{Domain: domain, From: from, To: to}
	log := zap.L().With(zap.String("domain", domain), zap.String("from", from), zap.String("to", to))

	if from == to {
		out.Status = model.MigrationNoop
		return payload, out
	}

	if !NeedsMigration(from, to) {
		log.Warn("migration: target does not follow source, returning payload unchanged")
		out.Status = model.MigrationDowngrade
		return payload, out
	}

	if result, ok := e.runHop(ctx, domain, from, to, payload, &out); ok {
		out.Status = model.MigrationDirect
		out.Path = []string{from, to}
		log.Debug("migration: applied direct script")
		return result, out
	}

	if result, path, ok := e.stepwise(ctx, domain, from, to, payload, &out); ok {
		out.Status = model.MigrationStepwise
		out.Path = path
		log.Debug("migration: applied stepwise chain", zap.Strings("path", path))
		return result, out
	}

	log.Warn("migration: no migration path found, passing payload through",
		zap.Int("script_errors", len(out.Errors)),
	)
	out.Status = model.MigrationPassthrough
	return payload, out
}

// MigrateStrict is Migrate for callers that require the payload to reach
// the target shape: a passthrough outcome becomes a *model.MigrationError.
func (e *Engine) MigrateStrict(ctx context.Context, domain, from, to string, payload model.Payload) (model.Payload, model.MigrationOutcome, error) {
	result, out := e.Migrate(ctx, domain, from, to, payload)
	if out.Status == model.MigrationPassthrough || out.Status == model.MigrationDowngrade {
		return payload, out, &model.MigrationError{Domain: domain, From: from, To: to, Errors: out.Errors}
	}
	return result, out, nil
}

// runHop applies the script registered for exactly (from, to). A script
// that fails counts as a missing hop; its error is kept in the outcome.
func (e *Engine) runHop(ctx context.Context, domain, from, to string, payload model.Payload, out *model.MigrationOutcome) (model.Payload, bool) {
	script, ok := e.scripts.Lookup(domain, from, to)
	if !ok {
		return nil, false
	}
	result, err := script(ctx, payload.Clone())
	if err != nil {
		zap.L().Warn("migration: script failed",
			zap.String("domain", domain),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err),
		)
		out.Errors = append(out.Errors, ScriptKey{Domain: domain, From: from, To: to}.String()+": "+err.Error())
		return nil, false
	}
	if result == nil {
		result = model.Payload{}
	}
	return result, true
}

// stepwise walks adjacent known versions from -> to. Every hop must
// succeed; a partial chain is never returned.
func (e *Engine) stepwise(ctx context.Context, domain, from, to string, payload model.Payload, out *model.MigrationOutcome) (model.Payload, []string, bool) {
	versions, err := e.AvailableVersions(domain)
	if err != nil {
		zap.L().Warn("migration: cannot list versions for stepwise path", zap.String("domain", domain), zap.Error(err))
		return nil, nil, false
	}
	i, j := slices.Index(versions, from), slices.Index(versions, to)
	// A single hop is the direct script, already attempted.
	if i < 0 || j < 0 || j-i < 2 {
		return nil, nil, false
	}
	path := versions[i : j+1]

	current := payload
	for k := 0; k+1 < len(path); k++ {
		if err := ctx.Err(); err != nil {
			out.Errors = append(out.Errors, err.Error())
			return nil, nil, false
		}
		next, ok := e.runHop(ctx, domain, path[k], path[k+1], current, out)
		if !ok {
			return nil, nil, false
		}
		current = next
	}
	return current, slices.Clone(path), true
}
