// Package lang resolves message keys against flat key → template language files.
package lang

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback is the language every catalog falls back to.
const Fallback = "english"

//go:embed languages/*.yml
var embedded embed.FS

// Vars are placeholder values, substituted for {name} in templates.
type Vars map[string]any

// Catalog is an immutable set of message templates for one language.
type Catalog struct {
	name     string
	messages map[string]string
}

func parse(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	flatten("", raw, out)
	return out, nil
}

// flatten accepts both dotted keys and nested maps.
func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func embeddedCatalog(name string) (map[string]string, error) {
	data, err := fs.ReadFile(embedded, "languages/"+name+".yml")
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// Default returns the embedded english catalog.
func Default() *Catalog {
	msgs, err := embeddedCatalog(Fallback)
	if err != nil {
		panic(fmt.Sprintf("lang: embedded %s catalog: %v", Fallback, err))
	}
	return &Catalog{name: Fallback, messages: msgs}
}

// Load builds the catalog for name. Keys are looked up in <dir>/<name>.yml, then
// an embedded catalog of that name, then the embedded english catalog. A
// missing file is not an error; a malformed one is.
func Load(dir, name string) (*Catalog, error) {
	c := Default()
	if name == "" || name == Fallback && dir == "" {
		return c, nil
	}
	c.name = name
	if msgs, err := embeddedCatalog(name); err == nil {
		for k, v := range msgs {
			c.messages[k] = v
		}
	}
	if dir == "" {
		return c, nil
	}
	path := filepath.Join(dir, name+".yml")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read language file %s: %w", path, err)
	}
	msgs, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse language file %s: %w", path, err)
	}
	for k, v := range msgs {
		c.messages[k] = v
	}
	return c, nil
}

// Name is the language this catalog was loaded for.
func (c *Catalog) Name() string { return c.name }

// Has reports whether key has a template.
func (c *Catalog) Has(key string) bool {
	_, ok := c.messages[key]
	return ok
}

// Keys lists every known key in order.
func (c *Catalog) Keys() []string {
	out := make([]string, 0, len(c.messages))
	for k := range c.messages {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Render resolves key and substitutes vars. Unknown keys render as the key itself.
func (c *Catalog) Render(key string, vars Vars) string {
	tmpl, ok := c.messages[key]
	if !ok {
		return key
	}
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
