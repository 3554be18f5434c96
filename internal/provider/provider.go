// Package provider describes the generation capabilities the service can dispatch to and
// how their results are read back.
package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/digkill/genledger/internal/models"
)

// ErrInvalidParams is wrapped by Validate when parameters do not fit a capability.
var ErrInvalidParams = errors.New("invalid generation parameters")

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Capability is the descriptor of one provider id. Cost, Normalize and BuildInput are
// pure functions; the service never branches on provider id strings.
type Capability struct {
	ID        string
	Name      string
	Kind      Kind
	Extractor Extractor

	normalize func(models.GenerationParams) models.GenerationParams
	validate  func(models.GenerationParams) error
	cost      func(models.GenerationParams) int64
	model     func(refs []string) string
	input     func(prompt string, p models.GenerationParams, refs []string) map[string]any
}

// Normalize fills the capability defaults into p.
func (c Capability) Normalize(p models.GenerationParams) models.GenerationParams {
	if c.normalize == nil {
		return p
	}
	return c.normalize(p)
}

func (c Capability) Validate(p models.GenerationParams) error {
	if c.validate == nil {
		return nil
	}
	if err := c.validate(p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, c.ID, err)
	}
	return nil
}

// Cost returns the credits one unit costs with the given (normalized) parameters.
func (c Capability) Cost(p models.GenerationParams) int64 {
	return c.cost(p)
}

// Model picks the upstream model name; some capabilities switch model when reference media is present.
func (c Capability) Model(refs []string) string {
	return c.model(refs)
}

// BuildInput renders the provider input object. A system prompt is prepended to the prompt.
func (c Capability) BuildInput(prompt, systemPrompt string, p models.GenerationParams, refs []string) map[string]any {
	if s := strings.TrimSpace(systemPrompt); s != "" {
		prompt = s + "\n\n" + prompt
	}
	return c.input(prompt, p, refs)
}

// Extract normalizes a raw provider payload for this capability.
func (c Capability) Extract(raw []byte) Outcome {
	if c.Extractor == nil {
		return Chain(Generic).Extract(raw)
	}
	return c.Extractor.Extract(raw)
}

// Registry selects capabilities by id.
type Registry struct {
	caps map[string]Capability
}

func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		r.caps[c.ID] = c
	}
	return r
}

func (r *Registry) Get(id string) (Capability, bool) {
	c, ok := r.caps[id]
	return c, ok
}

// List returns the capabilities ordered by id.
func (r *Registry) List() []Capability {
	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
