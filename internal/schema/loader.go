// Package schema reads contract definitions from a directory tree laid out
// as <base>/<domain>/<version>.yaml.
package schema

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contractml/internal/model"
)

var extensions = []string{".yaml", ".yml"}

// names keeps domain and version identifiers inside the base directory.
var names = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Loader loads schema documents. It holds no cache; the registry caches
// compiled contracts.
type Loader struct {
	basePath string
}

// NewLoader returns a Loader rooted at basePath.
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the schemas directory.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load reads the schema for (domain, version). It returns a
// *model.NotFoundError when no document exists.
func (l *Loader) Load(domain, version string) (*model.SchemaConfig, error) {
	path, ok := l.find(domain, version)
	if !ok {
		return nil, &model.NotFoundError{Domain: domain, Version: version}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}

	cfg, err := Parse(domain, version, data)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("schema: loaded contract config",
		zap.String("domain", domain),
		zap.String("version", version),
		zap.Int("fields", len(cfg.Fields)),
	)
	return cfg, nil
}

// Parse decodes a schema document.
func Parse(domain, version string, data []byte) (*model.SchemaConfig, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &model.SchemaError{Domain: domain, Version: version, Reason: err.Error()}
	}
	if len(doc.Fields) == 0 {
		return nil, &model.SchemaError{Domain: domain, Version: version, Reason: "no fields defined"}
	}
	return doc.toConfig(domain, version)
}

// ListAvailable enumerates every (domain, version) pair on disk, sorted by
// domain then version name. A missing base directory is logged, not failed,
// so the service can boot with zero contracts.
func (l *Loader) ListAvailable() []model.ContractRef {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		zap.L().Warn("schema: schemas directory not readable",
			zap.String("path", l.basePath),
			zap.Error(err),
		)
		return []model.ContractRef{}
	}

	refs := []model.ContractRef{}
	for _, e := range entries {
		if !e.IsDir() || !names.MatchString(e.Name()) {
			continue
		}
		versions, err := l.Versions(e.Name())
		if err != nil {
			continue
		}
		for _, v := range versions {
			refs = append(refs, model.ContractRef{Domain: e.Name(), Version: v})
		}
	}

	zap.L().Debug("schema: listed available contracts", zap.Int("count", len(refs)))
	return refs
}

// Versions lists the version names present for domain in lexical order.
// Semantic ordering is the migration engine's concern. An unknown domain
// yields an empty list.
func (l *Loader) Versions(domain string) ([]string, error) {
	if !names.MatchString(domain) {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(l.basePath, domain))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read domain %s", domain)
	}

	seen := make(map[string]bool)
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isSchemaExt(ext) {
			continue
		}
		v := strings.TrimSuffix(e.Name(), ext)
		if !names.MatchString(v) || seen[v] {
			continue
		}
		seen[v] = true
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (l *Loader) find(domain, version string) (string, bool) {
	if !names.MatchString(domain) || !names.MatchString(version) {
		return "", false
	}
	for _, ext := range extensions {
		p := filepath.Join(l.basePath, domain, version+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func isSchemaExt(ext string) bool {
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
