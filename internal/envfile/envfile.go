// Package envfile seeds the process environment from a dotenv file before
// anything reads configuration. Values already present in the environment
// always win; the file only fills gaps.
package envfile

import (
	"os"
	"path/filepath"
	"strings"
)

// Result reports what Load did, for the startup log line.
type Result struct {
	Path   string
	Loaded bool
	Keys   int
	Err    error
}

type assignment struct {
	key   string
	value string
}

// Load resolves the dotenv file and applies it. WEBWEAVER_ENV_PATH pins an
// explicit file; otherwise the search walks upward from the working directory
// until a .env is found or the filesystem root is reached.
func Load() Result {
	if pinned := strings.TrimSpace(os.Getenv("WEBWEAVER_ENV_PATH")); pinned != "" {
		return LoadPath(pinned)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return Result{Err: err}
	}
	path := searchUp(cwd, ".env")
	if path == "" {
		return Result{}
	}
	return LoadPath(path)
}

// LoadPath applies the named dotenv file to the process environment.
func LoadPath(path string) Result {
	res := Result{Path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Loaded = true
	for _, a := range parse(string(raw)) {
		if _, exists := os.LookupEnv(a.key); exists {
			continue
		}
		if err := os.Setenv(a.key, a.value); err != nil {
			res.Err = err
			return res
		}
		res.Keys++
	}
	return res
}

func parse(src string) []assignment {
	var out []assignment
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out = append(out, assignment{key: key, value: cleanValue(value)})
	}
	return out
}

// cleanValue trims, strips one level of matched quotes, and drops unquoted
// trailing comments. A '#' inside quotes is part of the value.
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if q := v[0]; (q == '"' || q == '\'') && v[len(v)-1] == q {
			return v[1 : len(v)-1]
		}
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}

func searchUp(start, name string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
