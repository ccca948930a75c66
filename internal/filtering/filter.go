package filtering

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/headerkit/source-agent/internal/source"
)

// Criteria lists include and exclude rules per dimension
type Criteria struct {
	Types        []source.Type
	ExcludeTypes []source.Type
	Tags         []string
	ExcludeTags  []string
	Paths        []string
	ExcludePaths []string
}

// IsEmpty reports whether no rule is set
func (c Criteria) IsEmpty() bool {
	return len(c.Types)+len(c.ExcludeTypes)+len(c.Tags)+len(c.ExcludeTags)+
		len(c.Paths)+len(c.ExcludePaths) == 0
}

// Filter is a compiled Criteria
type Filter struct {
	criteria     Criteria
	paths        []glob.Glob
	excludePaths []glob.Glob
}

// Compile validates the path patterns. Errors wrap source.ErrValidation.
func Compile(c Criteria) (*Filter, error) {
	paths, err := compilePatterns(c.Paths)
	if err != nil {
		return nil, err
	}
	excludePaths, err := compilePatterns(c.ExcludePaths)
	if err != nil {
		return nil, err
	}
	return &Filter{criteria: c, paths: paths, excludePaths: excludePaths}, nil
}

// compilePatterns rejects what filepath.Match rejects, then compiles with
// gobwas/glob so * matches across slashes
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if _, err := filepath.Match(p, "test"); err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern '%s': %v", source.ErrValidation, p, err)
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern '%s': %v", source.ErrValidation, p, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// Match reports whether s passes every dimension, and why not when it fails
func (f *Filter) Match(s *source.Source) (bool, string) {
	if ok, reason := includeExclude(s.Type, f.criteria.Types, f.criteria.ExcludeTypes, "type"); !ok {
		return false, reason
	}
	if ok, reason := includeExclude(s.Tag, f.criteria.Tags, f.criteria.ExcludeTags, "tag"); !ok {
		return false, reason
	}
	return f.matchPath(s.Path)
}

func (f *Filter) matchPath(path string) (bool, string) {
	for i, g := range f.excludePaths {
		if g.Match(path) {
			return false, fmt.Sprintf("excluded by path pattern '%s'", f.criteria.ExcludePaths[i])
		}
	}
	if len(f.paths) == 0 {
		return true, ""
	}
	for _, g := range f.paths {
		if g.Match(path) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("no match found in path patterns %v", f.criteria.Paths)
}

func includeExclude[T comparable](value T, include, exclude []T, dimension string) (bool, string) {
	if slices.Contains(exclude, value) {
		return false, fmt.Sprintf("excluded by %s '%v'", dimension, value)
	}
	if len(include) > 0 && !slices.Contains(include, value) {
		return false, fmt.Sprintf("%s '%v' not in include list %v", dimension, value, include)
	}
	return true, ""
}

// Apply returns the sources that match, in order
func (f *Filter) Apply(list []source.Source) []source.Source {
	out := make([]source.Source, 0, len(list))
	for i := range list {
		if ok, _ := f.Match(&list[i]); ok {
			out = append(out, list[i])
		}
	}
	return out
}

// FromQuery reads criteria from repeated or comma-separated query
// parameters: type, exclude_type, tag, exclude_tag, path, exclude_path
func FromQuery(q url.Values) Criteria {
	toTypes := func(values []string) []source.Type {
		out := make([]source.Type, 0, len(values))
		for _, v := range values {
			out = append(out, source.Type(strings.ToLower(v)))
		}
		return out
	}
	return Criteria{
		Types:        toTypes(queryList(q, "type")),
		ExcludeTypes: toTypes(queryList(q, "exclude_type")),
		Tags:         queryList(q, "tag"),
		ExcludeTags:  queryList(q, "exclude_tag"),
		Paths:        q["path"],
		ExcludePaths: q["exclude_path"],
	}
}

// queryList splits comma-separated values. Paths are not split since
// URLs and globs may contain commas.
func queryList(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
