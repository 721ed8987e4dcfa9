package analysis

import (
	"fmt"
	"path"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Config configures the tree-sitter engine's language support.
type Config struct {
	// Languages maps file extensions (e.g., ".go", ".py") to tree-sitter
	// languages. The simplest way to register languages.
	Languages map[string]*tree_sitter.Language

	// Matchers provides file-to-language matching beyond extensions.
	// Matchers are evaluated in order; the first match wins.
	Matchers []LanguageMatcher
}

// LanguageMatcher associates a tree-sitter language with one or more
// matching strategies. At least one of Extensions, Filenames, Pattern, or
// LanguageID must be set.
type LanguageMatcher struct {
	Language   *tree_sitter.Language
	Extensions []string // e.g., [".yml", ".yaml"]
	Filenames  []string // exact filenames, e.g., ["Dockerfile"]
	Pattern    string   // glob pattern, e.g., ".github/workflows/*.yml"
	LanguageID string   // LSP languageId, e.g., "yaml"
}

// Registry maps file extensions, filenames, patterns, and language IDs to
// tree-sitter languages.
type Registry struct {
	mu        sync.RWMutex
	languages map[string]*tree_sitter.Language // ext -> language
	matchers  []LanguageMatcher
}

// NewRegistry creates a new language registry from a config.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		languages: make(map[string]*tree_sitter.Language, len(cfg.Languages)),
		matchers:  cfg.Matchers,
	}
	for ext, lang := range cfg.Languages {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.languages[ext] = lang
	}
	return r
}

// Register adds a language for a given file extension.
func (r *Registry) Register(ext string, lang *tree_sitter.Language) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[ext] = lang
}

// LanguageForURI returns the tree-sitter language for a given URI and
// optional languageID. It evaluates in this order:
//  1. Matchers: exact filename match
//  2. Matchers: languageID match
//  3. Matchers: glob pattern match
//  4. Matchers: extension match
//  5. Extension-based lookup from the Languages map
func (r *Registry) LanguageForURI(uri string, languageID string) (*tree_sitter.Language, error) {
	filename := path.Base(uri)
	ext := path.Ext(uri)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.matchers {
		for _, fn := range m.Filenames {
			if fn == filename {
				return m.Language, nil
			}
		}
	}

	if languageID != "" {
		for _, m := range r.matchers {
			if m.LanguageID != "" && m.LanguageID == languageID {
				return m.Language, nil
			}
		}
	}

	for _, m := range r.matchers {
		if m.Pattern != "" {
			if matched, _ := path.Match(m.Pattern, uri); matched {
				return m.Language, nil
			}
			if matched, _ := path.Match(m.Pattern, filename); matched {
				return m.Language, nil
			}
		}
	}

	if ext != "" {
		for _, m := range r.matchers {
			for _, mExt := range m.Extensions {
				normalized := mExt
				if !strings.HasPrefix(normalized, ".") {
					normalized = "." + normalized
				}
				if normalized == ext {
					return m.Language, nil
				}
			}
		}
	}

	if ext != "" {
		if lang, ok := r.languages[ext]; ok {
			return lang, nil
		}
	}

	return nil, fmt.Errorf("no language registered for: %s", uri)
}

// HasLanguage returns whether a language is registered for the given URI.
func (r *Registry) HasLanguage(uri string) bool {
	lang, err := r.LanguageForURI(uri, "")
	return err == nil && lang != nil
}
