// Package instructions builds the prompt text prepended to every agent
// invocation. One agent wears different hats: Coordinator plans and
// validates, Ralph implements, and custom hats extend the team. Core
// behaviors (scratchpad, specs, guardrails) are injected into every
// prompt regardless of hat.
package instructions

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/bus"
)

// CoreConfig provides the paths and guardrails injected into every prompt.
type CoreConfig struct {
	Scratchpad string
	SpecsDir   string
	Guardrails []string
}

// DefaultCore returns the standard core behavior configuration.
func DefaultCore() CoreConfig {
	return CoreConfig{
		Scratchpad: ".agent/scratchpad.md",
		SpecsDir:   "./specs/",
		Guardrails: []string{
			"Don't assume a file or function is missing — search first.",
			"Backpressure: tests, typecheck, and lint must pass before work counts as done.",
			"Track tasks in the scratchpad: `[ ]` pending, `[x]` done, `[~]` cancelled (with reason).",
			"Small, focused commits. One task, one commit.",
		},
	}
}

// Builder renders hat-specific prompt instructions.
type Builder struct {
	promise string
	core    CoreConfig
}

// NewBuilder creates a builder for the given completion promise and core
// configuration.
func NewBuilder(promise string, core CoreConfig) *Builder {
	return &Builder{promise: promise, core: core}
}

type coreData struct {
	Scratchpad string
	SpecsDir   string
	Guardrails string
}

type promptData struct {
	Core    coreData
	Promise string
	Context string

	// Custom-hat fields.
	Name        string
	Role        string
	PublishesTo string
}

func (b *Builder) data(context string) promptData {
	guardrails := make([]string, 0, len(b.core.Guardrails))
	for _, g := range b.core.Guardrails {
		guardrails = append(guardrails, "- "+g)
	}
	return promptData{
		Core: coreData{
			Scratchpad: b.core.Scratchpad,
			SpecsDir:   b.core.SpecsDir,
			Guardrails: strings.Join(guardrails, "\n"),
		},
		Promise: b.promise,
		Context: context,
	}
}

func render(tmpl *template.Template, data promptData) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		// Templates are static and parsed at init; execution over a plain
		// struct cannot fail.
		panic(fmt.Sprintf("rendering %s: %v", tmpl.Name(), err))
	}
	return buf.String()
}

// Coordinator builds the planner-hat instructions with the incoming prompt
// or event context appended.
func (b *Builder) Coordinator(context string) string {
	return render(coordinatorTemplate, b.data(context))
}

// Ralph builds the builder-hat instructions.
func (b *Builder) Ralph(context string) string {
	return render(ralphTemplate, b.data(context))
}

// CustomHat builds instructions for a hat beyond the default pair. Hats
// without configured instructions fall back to following the incoming
// events.
func (b *Builder) CustomHat(hat bus.Hat, eventsContext string) string {
	data := b.data(eventsContext)
	data.Name = hat.Name
	if data.Name == "" {
		data.Name = hat.ID
	}
	data.Role = hat.Instructions
	if data.Role == "" {
		data.Role = "Follow the incoming event instructions."
	}
	if len(hat.Publishes) > 0 {
		data.PublishesTo = "You publish to: " + strings.Join(hat.Publishes, ", ")
	}
	return render(customHatTemplate, data)
}
