// Package pod models personal storage as documents of facts plus inbox-like
// collections, and provides the Store implementations used by the game
// protocol (memory, Redis, HTTP).
package pod

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/park285/solid-chess/internal/vocab"
)

var (
	ErrNotFound   = errors.New("resource not found")
	ErrInvalidURL = errors.New("invalid resource url")
)

// Fact is a single subject/predicate/object statement. Objects are resource
// URLs unless Literal is set. An empty Subject inside a posted envelope refers
// to the created resource itself.
type Fact struct {
	Subject   string `json:"s"`
	Predicate string `json:"p"`
	Object    string `json:"o"`
	Literal   bool   `json:"lit,omitempty"`
}

func Link(s, p, o string) Fact { return Fact{Subject: s, Predicate: p, Object: o} }

func Lit(s, p, o string) Fact { return Fact{Subject: s, Predicate: p, Object: o, Literal: true} }

// Store is the storage collaborator. Fetch and Write address documents (a URL
// fragment is ignored); collections are URLs ending in '/'.
type Store interface {
	// Fetch returns every fact of the document holding url, or ErrNotFound.
	Fetch(ctx context.Context, url string) ([]Fact, error)
	// Write inserts facts into a document. Inserting an existing fact is a no-op.
	Write(ctx context.Context, docURL string, facts []Fact) error
	// Delete removes a document and its collection membership. Missing documents are ignored.
	Delete(ctx context.Context, url string) error
	// ListTyped returns collection members whose document types them as typ.
	// vocab.Resource matches every member. Members come back in insertion order.
	ListTyped(ctx context.Context, collectionURL, typ string) ([]string, error)
	// Post creates a new resource inside a collection and returns its URL.
	Post(ctx context.Context, collectionURL string, facts []Fact) (string, error)
}

// DocumentOf strips the fragment of a resource URL.
func DocumentOf(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}

// ParentOf returns the collection a document URL lives in.
func ParentOf(url string) string {
	doc := strings.TrimSuffix(DocumentOf(url), "/")
	if i := strings.LastIndexByte(doc, '/'); i >= 0 {
		return doc[:i+1]
	}
	return ""
}

// NewID mints a fresh resource identifier inside base.
func NewID(base string) string {
	return DocumentOf(base) + "#" + uuid.NewString()
}

func newMemberURL(collectionURL string) string {
	return collectionOf(collectionURL) + uuid.NewString()
}

func collectionOf(url string) string {
	if !strings.HasSuffix(url, "/") {
		return url + "/"
	}
	return url
}

// bindSubjects resolves empty subjects of posted facts to the new resource.
func bindSubjects(url string, facts []Fact) []Fact {
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		if f.Subject == "" {
			f.Subject = url
		}
		out = append(out, f)
	}
	return out
}

// Objects returns objects of (subject, predicate) found in document doc.
func Objects(ctx context.Context, s Store, doc, subject, predicate string) ([]string, error) {
	facts, err := s.Fetch(ctx, doc)
	if err != nil {
		return nil, err
	}
	return Match(facts, subject, predicate), nil
}

// First is the single-valued lookup of a predicate on a resource, read from
// the resource's own document. ok is false when no value exists.
func First(ctx context.Context, s Store, subject, predicate string) (string, bool, error) {
	return FirstIn(ctx, s, DocumentOf(subject), subject, predicate)
}

// FirstIn is First against an explicit document.
func FirstIn(ctx context.Context, s Store, doc, subject, predicate string) (string, bool, error) {
	objs, err := Objects(ctx, s, doc, subject, predicate)
	if err != nil {
		return "", false, err
	}
	if len(objs) == 0 {
		return "", false, nil
	}
	return objs[0], true, nil
}

// HasType reports whether the resource's document types it as typ.
func HasType(ctx context.Context, s Store, url, typ string) (bool, error) {
	types, err := Objects(ctx, s, DocumentOf(url), url, vocab.Type)
	if err != nil {
		return false, err
	}
	for _, t := range types {
		if t == typ {
			return true, nil
		}
	}
	return false, nil
}

// Match filters facts by subject and predicate; an empty argument matches anything.
func Match(facts []Fact, subject, predicate string) []string {
	var out []string
	for _, f := range facts {
		if subject != "" && f.Subject != subject {
			continue
		}
		if predicate != "" && f.Predicate != predicate {
			continue
		}
		out = append(out, f.Object)
	}
	return out
}

// SubjectsOf returns subjects carrying (predicate, object); empty object matches any.
func SubjectsOf(facts []Fact, predicate, object string) []string {
	var out []string
	for _, f := range facts {
		if f.Predicate != predicate {
			continue
		}
		if object != "" && f.Object != object {
			continue
		}
		out = append(out, f.Subject)
	}
	return out
}

func hasFact(facts []Fact, subject, predicate, object string) bool {
	for _, f := range facts {
		if f.Subject == subject && f.Predicate == predicate && f.Object == object {
			return true
		}
	}
	return false
}

// filterTyped keeps members whose documents declare them as typ.
func filterTyped(ctx context.Context, s Store, members []string, typ string) ([]string, error) {
	if typ == "" || typ == vocab.Resource {
		return members, nil
	}
	var out []string
	for _, m := range members {
		facts, err := s.Fetch(ctx, m)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if hasFact(facts, m, vocab.Type, typ) {
			out = append(out, m)
		}
	}
	return out, nil
}
