package engine

import (
	"testing"

	"webweaver/engine/internal/settings"
	"webweaver/engine/internal/vfs"
)

func testResolveSettings() settings.Settings {
	return settings.Settings{
		ResolveExtensions: []string{".tsx", ".ts", ".jsx", ".js", ".css"},
		AliasPrefix:       "@/",
		AliasTarget:       "/",
		RegistryBaseURL:   "https://esm.sh",
		RegistryPackages: map[string]string{
			"react":                 "18.3.1",
			"react-dom":             "18.3.1",
			"@radix-ui/react-icons": "1.3.0",
		},
		EntryCandidates: []string{
			"/App.tsx", "/App.jsx", "/App.ts", "/App.js",
			"/index.tsx", "/index.jsx", "/index.ts", "/index.js",
		},
	}
}

func newTestResolver(t *testing.T, files map[string]string) *resolver {
	t.Helper()
	tree := vfs.New()
	for path, content := range files {
		if err := tree.Set(path, content); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}
	return newResolver(tree, testResolveSettings())
}

func TestResolveExactLocalPath(t *testing.T) {
	r := newTestResolver(t, map[string]string{"/lib/util.js": "export {}"})
	got := r.resolve("/App.jsx", "./lib/util.js")
	if got.Kind != resolveLocal || got.Key != "~/lib/util.js" || got.Path != "/lib/util.js" {
		t.Fatalf("unexpected resolution %+v", got)
	}
}

func TestResolveExtensionProbingOrder(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"/components/Button.tsx": "export default 1",
		"/components/Button.js":  "export default 2",
	})
	got := r.resolve("/App.jsx", "./components/Button")
	if got.Kind != resolveLocal || got.Path != "/components/Button.tsx" {
		t.Fatalf("expected .tsx probed first, got %+v", got)
	}
}

func TestResolveAliasPrefix(t *testing.T) {
	r := newTestResolver(t, map[string]string{"/components/Button.tsx": "export default 1"})
	got := r.resolve("/App.jsx", "@/components/Button")
	if got.Kind != resolveLocal || got.Path != "/components/Button.tsx" || got.Key != "~/components/Button.tsx" {
		t.Fatalf("unexpected alias resolution %+v", got)
	}
}

func TestResolveRelativeFromNestedImporter(t *testing.T) {
	r := newTestResolver(t, map[string]string{"/components/Button.tsx": "export default 1"})
	got := r.resolve("/pages/home.jsx", "../components/Button")
	if got.Kind != resolveLocal || got.Path != "/components/Button.tsx" {
		t.Fatalf("unexpected resolution %+v", got)
	}

	got = r.resolve("/pages/home.jsx", "./missing")
	if got.Kind != resolveMissing || got.Key != "~missing:./missing" {
		t.Fatalf("relative misses never reach the registry, got %+v", got)
	}
}

func TestResolveAbsoluteSpecifier(t *testing.T) {
	r := newTestResolver(t, map[string]string{"/components/Button.tsx": "export default 1"})
	got := r.resolve("/pages/home.jsx", "/components/Button.tsx")
	if got.Kind != resolveLocal || got.Path != "/components/Button.tsx" {
		t.Fatalf("unexpected resolution %+v", got)
	}
}

func TestResolveRegistryPackages(t *testing.T) {
	r := newTestResolver(t, nil)

	got := r.resolve("/App.jsx", "react")
	if got.Kind != resolveRegistry || got.Key != "react" || got.URL != "https://esm.sh/react@18.3.1" {
		t.Fatalf("unexpected registry resolution %+v", got)
	}

	got = r.resolve("/App.jsx", "react-dom/client")
	if got.Kind != resolveRegistry || got.URL != "https://esm.sh/react-dom@18.3.1/client" {
		t.Fatalf("subpath must ride on the pinned version, got %+v", got)
	}

	got = r.resolve("/App.jsx", "@radix-ui/react-icons")
	if got.Kind != resolveRegistry || got.URL != "https://esm.sh/@radix-ui/react-icons@1.3.0" {
		t.Fatalf("unexpected scoped resolution %+v", got)
	}

	got = r.resolve("/App.jsx", "@radix-ui/react-icons/dist/icon")
	if got.Kind != resolveRegistry || got.URL != "https://esm.sh/@radix-ui/react-icons@1.3.0/dist/icon" {
		t.Fatalf("unexpected scoped subpath %+v", got)
	}
}

func TestResolveUnknownPackageGetsPlaceholder(t *testing.T) {
	r := newTestResolver(t, map[string]string{"/left-pad.js": "export default 1"})
	got := r.resolve("/App.jsx", "left-pad")
	if got.Kind != resolveMissing || got.Key != "~missing:left-pad" {
		t.Fatalf("bare specifiers never probe the tree, got %+v", got)
	}
}

func TestResolveAliasMissFallsThrough(t *testing.T) {
	r := newTestResolver(t, nil)
	got := r.resolve("/App.jsx", "@/nope/Nothing")
	if got.Kind != resolveMissing || got.Key != "~missing:@/nope/Nothing" {
		t.Fatalf("unexpected resolution %+v", got)
	}
}

func TestSplitPackage(t *testing.T) {
	cases := []struct {
		spec    string
		name    string
		subpath string
	}{
		{"react", "react", ""},
		{"react-dom/client", "react-dom", "/client"},
		{"@scope/pkg", "@scope/pkg", ""},
		{"@scope/pkg/sub/deep", "@scope/pkg", "/sub/deep"},
		{"@scope", "@scope", ""},
	}
	for _, tc := range cases {
		name, subpath := splitPackage(tc.spec)
		if name != tc.name || subpath != tc.subpath {
			t.Fatalf("%s: expected (%s, %s), got (%s, %s)", tc.spec, tc.name, tc.subpath, name, subpath)
		}
	}
}
