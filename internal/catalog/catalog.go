// Package catalog loads the static list of lab environments users can start.
//
// The catalog is read once per view and never mutated. A source that cannot
// be read or parsed yields ErrUnavailable; callers treat that as fatal for
// the view and do not retry.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when the catalog source cannot be read or parsed.
var ErrUnavailable = errors.New("catalog unavailable")

// Difficulty is the closed set of difficulty labels.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case Easy, Medium, Hard:
		return true
	}
	return false
}

// Environment is one selectable practice target.
type Environment struct {
	ID          int        `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Difficulty  Difficulty `json:"difficulty" yaml:"difficulty"`
	OS          string     `json:"os" yaml:"os"`
	Category    string     `json:"category" yaml:"category"`
	Description string     `json:"description" yaml:"description"`
}

// Loader fetches the ordered environment list.
type Loader interface {
	Load(ctx context.Context) ([]Environment, error)
}

// NewLoader picks a loader for source: http(s) URLs are fetched, anything
// else is treated as a file path.
func NewLoader(source string) Loader {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return NewHTTPLoader(source, nil)
	}
	return NewFileLoader(source)
}

// Validate checks the entries of a freshly decoded catalog.
func Validate(envs []Environment) error {
	seen := make(map[int]struct{}, len(envs))
	for i, e := range envs {
		if e.ID <= 0 {
			return fmt.Errorf("entry %d: id must be positive, got %d", i, e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("entry %d: duplicate id %d", i, e.ID)
		}
		seen[e.ID] = struct{}{}

		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("entry %d (id %d): name is required", i, e.ID)
		}
		if !e.Difficulty.Valid() {
			return fmt.Errorf("entry %d (id %d): difficulty %q is not one of Easy, Medium, Hard", i, e.ID, e.Difficulty)
		}
	}
	return nil
}

// Find returns the environment with the given id.
func Find(envs []Environment, id int) (Environment, bool) {
	for _, e := range envs {
		if e.ID == id {
			return e, true
		}
	}
	return Environment{}, false
}

func unavailable(source string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, source, err)
}
