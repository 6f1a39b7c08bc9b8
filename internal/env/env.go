package env

import (
	"os"
	"sort"
	"strings"
)

// DefaultVar is the variable that carries the deployment target to children.
const DefaultVar = "APP_ENV"

type Var map[string]string

// Env composes the environment handed to spawned generations.
type Env struct {
	Var  Var // overrides applied on top of the base
	base Var
}

func New() *Env { return &Env{Var: make(Var)} }

// FromOS captures the current process environment as the base.
func (e *Env) FromOS() *Env {
	e.base = Parse(os.Environ())
	return e
}

// Set sets K=V on the override layer.
func (e *Env) Set(k, v string) *Env {
	if e.Var == nil {
		e.Var = make(Var)
	}
	if k != "" {
		e.Var[k] = v
	}
	return e
}

// Target exports the deployment target under name (DefaultVar when empty).
func (e *Env) Target(name, target string) *Env {
	if name == "" {
		name = DefaultVar
	}
	if target == "" {
		return e
	}
	return e.Set(name, target)
}

// Parse turns "K=V" pairs into a map, skipping malformed entries.
func Parse(pairs []string) Var {
	m := make(Var, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Merge layers base, overrides and extra ("K=V"), expands ${VAR} references
// against the composed map and returns a sorted K=V slice.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		m[k] = v
	}
	for k, v := range Parse(extra) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// expand replaces ${VAR} with values from m. Bare $VAR, $$ and unknown
// references are left untouched.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
