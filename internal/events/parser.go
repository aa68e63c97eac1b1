// Package events extracts structured events from raw agent output. Agents
// communicate by embedding tags of the form:
//
//	<event topic="build.done">summary of changes</event>
//
// and signal overall completion with a configurable promise string.
package events

import (
	"strings"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/bus"
)

const (
	openPrefix = "<event topic=\""
	closeTag   = "</event>"
)

// Parse returns the events embedded in text, in order of appearance.
// Malformed tags are skipped.
func Parse(text string) []bus.Event {
	var out []bus.Event
	rest := text
	for {
		start := strings.Index(rest, openPrefix)
		if start < 0 {
			return out
		}
		rest = rest[start+len(openPrefix):]

		quote := strings.Index(rest, "\"")
		if quote < 0 {
			return out
		}
		topic := rest[:quote]
		rest = rest[quote+1:]

		gt := strings.Index(rest, ">")
		if gt < 0 {
			return out
		}
		rest = rest[gt+1:]

		end := strings.Index(rest, closeTag)
		if end < 0 {
			return out
		}
		payload := strings.TrimSpace(rest[:end])
		rest = rest[end+len(closeTag):]

		if topic != "" {
			out = append(out, bus.Event{Topic: topic, Payload: payload})
		}
	}
}

// ContainsPromise reports whether the output carries the completion
// promise. An empty promise never matches.
func ContainsPromise(text, promise string) bool {
	return promise != "" && strings.Contains(text, promise)
}
