package msgcat

import (
    "embed"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "text/template"

    yaml "gopkg.in/yaml.v3"
)

const defaultFile = "messages.ko.yaml"

//go:embed messages.ko.yaml
var defaultFiles embed.FS

// Catalog holds status-line templates keyed by dotted path (e.g. "state.analyzing").
// Templates render with text/template and fail on missing fields.
type Catalog struct {
    mu        sync.RWMutex
    templates map[string]*template.Template
}

// New loads the embedded messages, then YAML overrides from overrideDir.
func New(overrideDir string) (*Catalog, error) {
    c := &Catalog{templates: make(map[string]*template.Template)}

    raw, err := defaultFiles.ReadFile(defaultFile)
    if err != nil { return nil, fmt.Errorf("read embedded messages: %w", err) }
    flat, err := flattenYAML(raw)
    if err != nil { return nil, fmt.Errorf("parse embedded messages: %w", err) }
    if err := c.install(flat); err != nil { return nil, err }

    if dir := strings.TrimSpace(overrideDir); dir != "" {
        if err := c.applyDir(dir); err != nil { return nil, err }
    }
    return c, nil
}

func (c *Catalog) applyDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return fmt.Errorf("read message dir: %w", err) }

    var files []string
    for _, e := range entries {
        ext := strings.ToLower(filepath.Ext(e.Name()))
        if !e.IsDir() && (ext == ".yaml" || ext == ".yml") { files = append(files, e.Name()) }
    }
    sort.Strings(files)

    owner := make(map[string]string)
    merged := make(map[string]string)
    for _, name := range files {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return fmt.Errorf("read %s: %w", name, err) }
        flat, err := flattenYAML(b)
        if err != nil { return fmt.Errorf("parse %s: %w", name, err) }
        for k, v := range flat {
            if prev, ok := owner[k]; ok {
                return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
            }
            owner[k] = name
            merged[k] = v
        }
    }
    return c.install(merged)
}

// install parses every template up front so a broken override fails at startup.
func (c *Catalog) install(flat map[string]string) error {
    parsed := make(map[string]*template.Template, len(flat))
    for k, v := range flat {
        t, err := template.New(k).Option("missingkey=error").Parse(v)
        if err != nil { return fmt.Errorf("template %s: %w", k, err) }
        parsed[k] = t
    }
    c.mu.Lock()
    for k, t := range parsed { c.templates[k] = t }
    c.mu.Unlock()
    return nil
}

func flattenYAML(b []byte) (map[string]string, error) {
    var root map[string]any
    if err := yaml.Unmarshal(b, &root); err != nil { return nil, err }
    out := make(map[string]string)
    if err := flatten(root, "", out); err != nil { return nil, err }
    return out, nil
}

func flatten(node any, prefix string, out map[string]string) error {
    switch v := node.(type) {
    case map[string]any:
        for k, child := range v {
            key := k
            if prefix != "" { key = prefix + "." + k }
            if err := flatten(child, key, out); err != nil { return err }
        }
        return nil
    case string:
        if prefix == "" { return errors.New("string value without key") }
        out[prefix] = v
        return nil
    case nil:
        return nil
    default:
        return fmt.Errorf("unsupported value at %s: %T", prefix, v)
    }
}

// Render executes the template stored under key.
func (c *Catalog) Render(key string, data any) (string, error) {
    c.mu.RLock()
    t, ok := c.templates[strings.TrimSpace(key)]
    c.mu.RUnlock()
    if !ok { return "", fmt.Errorf("template not found: %s", key) }
    var b strings.Builder
    if err := t.Execute(&b, data); err != nil { return "", err }
    return b.String(), nil
}

// Text renders key and falls back to the key itself, for status lines that must never fail.
func (c *Catalog) Text(key string, data any) string {
    if c == nil { return key }
    s, err := c.Render(key, data)
    if err != nil { return key }
    return s
}

func (c *Catalog) Has(key string) bool {
    c.mu.RLock()
    defer c.mu.RUnlock()
    _, ok := c.templates[key]
    return ok
}
