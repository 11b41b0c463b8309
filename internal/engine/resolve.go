package engine

import (
	gopath "path"
	"strings"

	"webweaver/engine/internal/settings"
	"webweaver/engine/internal/vfs"
)

const (
	resolveLocal    = "local"
	resolveRegistry = "registry"
	resolveMissing  = "missing"
)

// resolution is the outcome for one raw specifier. Key is the import-map
// key the specifier is rewritten to: local modules use "~<abs path>",
// registry hits keep the bare specifier, missing ones get a
// "~missing:<specifier>" placeholder key.
type resolution struct {
	Kind string
	Key  string
	Path string
	URL  string
}

// resolver applies the import policy against one tree snapshot. It never
// mutates the tree; a new resolver is built per assembly.
type resolver struct {
	tree         *vfs.Tree
	extensions   []string
	aliasPrefix  string
	aliasTarget  string
	registryBase string
	packages     map[string]string
}

func newResolver(tree *vfs.Tree, st settings.Settings) *resolver {
	return &resolver{
		tree:         tree,
		extensions:   st.ResolveExtensions,
		aliasPrefix:  st.AliasPrefix,
		aliasTarget:  st.AliasTarget,
		registryBase: strings.TrimRight(st.RegistryBaseURL, "/"),
		packages:     st.RegistryPackages,
	}
}

// resolve maps a raw specifier written in the module at importer to its
// resolution, in policy order: exact tree path, extension candidates,
// alias rewrite, registry table, placeholder.
func (r *resolver) resolve(importer, specifier string) resolution {
	switch {
	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"):
		abs := gopath.Join(gopath.Dir(importer), specifier)
		if hit, ok := r.tryLocal(abs); ok {
			return hit
		}
	case strings.HasPrefix(specifier, "/"):
		if hit, ok := r.tryLocal(gopath.Clean(specifier)); ok {
			return hit
		}
	case r.aliasPrefix != "" && strings.HasPrefix(specifier, r.aliasPrefix):
		abs := gopath.Join(r.aliasTarget, specifier[len(r.aliasPrefix):])
		if hit, ok := r.tryLocal(abs); ok {
			return hit
		}
	default:
		if hit, ok := r.tryRegistry(specifier); ok {
			return hit
		}
	}
	return resolution{Kind: resolveMissing, Key: "~missing:" + specifier}
}

func (r *resolver) tryLocal(abs string) (resolution, bool) {
	if r.tree.IsFile(abs) {
		return resolution{Kind: resolveLocal, Key: "~" + abs, Path: abs}, true
	}
	for _, ext := range r.extensions {
		if cand := abs + ext; r.tree.IsFile(cand) {
			return resolution{Kind: resolveLocal, Key: "~" + cand, Path: cand}, true
		}
	}
	return resolution{}, false
}

func (r *resolver) tryRegistry(specifier string) (resolution, bool) {
	name, subpath := splitPackage(specifier)
	version, ok := r.packages[name]
	if !ok {
		return resolution{}, false
	}
	url := r.registryBase + "/" + name + "@" + version + subpath
	return resolution{Kind: resolveRegistry, Key: specifier, URL: url}, true
}

// splitPackage splits a bare specifier into its package name and subpath.
// Scoped packages keep their first two segments as the name.
func splitPackage(specifier string) (string, string) {
	segments := 1
	if strings.HasPrefix(specifier, "@") {
		segments = 2
	}
	idx := 0
	for n := 0; n < segments; n++ {
		next := strings.IndexByte(specifier[idx:], '/')
		if next < 0 {
			return specifier, ""
		}
		idx += next + 1
	}
	return specifier[:idx-1], specifier[idx-1:]
}
