// Package msgcat holds the user-facing texts, loaded from an embedded YAML
// catalog and optional override files.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/solid-chess/internal/game"
	"github.com/park285/solid-chess/internal/handshake"
	"github.com/park285/solid-chess/internal/pod"
	"github.com/park285/solid-chess/internal/signal"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

const defaultFile = "messages.en.yaml"

// Catalog maps dotted keys to text/template sources. Missing template
// fields are errors.
type Catalog struct {
	mu    sync.RWMutex
	data  map[string]string
	cache map[string]*template.Template
}

// New loads the embedded messages, then the *.yaml files of overrideDir.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]string), cache: make(map[string]*template.Template)}
	raw, err := fs.ReadFile(defaultFiles, defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustDefault returns the embedded catalog.
func MustDefault() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	owner := make(map[string]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := flatten(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := owner[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			owner[k] = name
		}
		c.merge(flat)
	}
	return nil
}

func (c *Catalog) apply(b []byte) error {
	flat, err := flatten(b)
	if err != nil {
		return err
	}
	c.merge(flat)
	return nil
}

func (c *Catalog) merge(flat map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range flat {
		c.data[k] = v
		delete(c.cache, k)
	}
}

func flatten(b []byte) (map[string]string, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if err := walk(m, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := walk(child, key, out); err != nil {
				return err
			}
		}
	case string:
		if prefix == "" {
			return errors.New("string value without key")
		}
		out[prefix] = v
	case nil:
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
	return nil
}

// Render executes the template stored under key.
func (c *Catalog) Render(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	c.mu.RLock()
	tpl, cached := c.cache[key]
	src, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("message not found: %s", key)
	}
	if !cached {
		var err error
		tpl, err = template.New(key).Option("missingkey=error").Parse(src)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cache[key] = tpl
		c.mu.Unlock()
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key and falls back to the key itself.
func (c *Catalog) Text(key string, data any) string {
	s, err := c.Render(key, data)
	if err != nil {
		return key
	}
	return s
}

var errorKeys = []struct {
	err error
	key string
}{
	{pod.ErrNotFound, "errors.game_not_found"},
	{pod.ErrNoInbox, "errors.no_inbox"},
	{game.ErrIllegalMove, "errors.illegal_move"},
	{game.ErrNotYourTurn, "errors.not_your_turn"},
	{game.ErrGameEnded, "errors.game_ended"},
	{game.ErrNotParticipant, "errors.not_participant"},
	{signal.ErrTransport, "errors.transport"},
	{handshake.ErrInvalidResponse, "errors.invalid_response"},
	{handshake.ErrSelfInvite, "errors.self_invite"},
}

// ErrorData carries the fields error messages may reference.
type ErrorData struct {
	Move     string
	Identity string
	Err      string
}

// Error turns an error into a user-facing sentence.
func (c *Catalog) Error(err error, data ErrorData) string {
	if err == nil {
		return ""
	}
	data.Err = err.Error()
	for _, ek := range errorKeys {
		if errors.Is(err, ek.err) {
			return c.Text(ek.key, data)
		}
	}
	return c.Text("errors.unknown", data)
}
