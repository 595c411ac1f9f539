// Package routes maps incoming paths to downstream services.
package routes

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AuthMode string

const (
	AuthRequired AuthMode = "required"
	AuthOptional AuthMode = "optional"
	AuthNone     AuthMode = "none"
)

type Service struct {
	Name       string        `yaml:"-"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	HealthPath string        `yaml:"health_path"`

	base *url.URL
}

func (s *Service) Base() *url.URL { return s.base }

type Route struct {
	Prefix  string   `yaml:"prefix"`
	Service string   `yaml:"service"`
	Auth    AuthMode `yaml:"auth"`
	Roles   []string `yaml:"roles"`
}

// Table is immutable after Load/Build.
type Table struct {
	services map[string]*Service
	routes   []Route // longest prefix first
}

type file struct {
	Services map[string]*Service `yaml:"services"`
	Routes   []Route             `yaml:"routes"`
}

// Build validates services and routes and indexes them for matching.
// defaultTimeout applies to services without their own timeout.
func Build(services map[string]*Service, routes []Route, defaultTimeout time.Duration) (*Table, error) {
	if len(services) == 0 {
		return nil, errors.New("routes: no services defined")
	}
	t := &Table{services: make(map[string]*Service, len(services))}
	for name, s := range services {
		if s == nil {
			return nil, fmt.Errorf("routes: service %q is empty", name)
		}
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("routes: service %q: invalid url %q", name, s.URL)
		}
		cp := *s
		cp.Name = name
		cp.base = u
		if cp.Timeout <= 0 {
			cp.Timeout = defaultTimeout
		}
		if cp.HealthPath == "" {
			cp.HealthPath = "/health"
		} else if !strings.HasPrefix(cp.HealthPath, "/") {
			cp.HealthPath = "/" + cp.HealthPath
		}
		t.services[name] = &cp
	}
	seen := map[string]bool{}
	for _, r := range routes {
		r.Prefix = normalize(r.Prefix)
		if seen[r.Prefix] {
			return nil, fmt.Errorf("routes: duplicate prefix %q", r.Prefix)
		}
		seen[r.Prefix] = true
		if _, ok := t.services[r.Service]; !ok {
			return nil, fmt.Errorf("routes: prefix %q: unknown service %q", r.Prefix, r.Service)
		}
		switch r.Auth {
		case "":
			r.Auth = AuthRequired
		case AuthRequired, AuthOptional, AuthNone:
		default:
			return nil, fmt.Errorf("routes: prefix %q: invalid auth mode %q", r.Prefix, r.Auth)
		}
		roles := make([]string, len(r.Roles))
		for i, role := range r.Roles {
			roles[i] = strings.ToUpper(role)
		}
		r.Roles = roles
		t.routes = append(t.routes, r)
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Prefix) > len(t.routes[j].Prefix)
	})
	return t, nil
}

// Load reads a YAML route table.
func Load(path string, defaultTimeout time.Duration) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	return Build(f.Services, f.Routes, defaultTimeout)
}

func normalize(p string) string {
	p = "/" + strings.Trim(p, "/")
	return p
}

// CleanPath resolves "." and ".." segments and repeated slashes, keeping a
// trailing slash.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && c != "/" {
		c += "/"
	}
	return c
}

// Match returns the route with the longest prefix that matches the cleaned
// path on a segment boundary.
func (t *Table) Match(p string) (Route, *Service, bool) {
	p = CleanPath(p)
	for _, r := range t.routes {
		if r.Prefix == "/" || p == r.Prefix || strings.HasPrefix(p, r.Prefix+"/") {
			return r, t.services[r.Service], true
		}
	}
	return Route{}, nil, false
}

func (t *Table) Service(name string) (*Service, bool) {
	s, ok := t.services[name]
	return s, ok
}

// Services returns all services sorted by name.
func (t *Table) Services() []*Service {
	out := make([]*Service, 0, len(t.services))
	for _, s := range t.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Table) ServiceNames() []string {
	out := make([]string, 0, len(t.services))
	for _, s := range t.Services() {
		out = append(out, s.Name)
	}
	return out
}

func (t *Table) Routes() []Route { return append([]Route(nil), t.routes...) }
