// Package commands dispatches slash-command invocations to a static table of
// handlers, each with its own resilience profile.
package commands

import (
	"context"
	"sort"

	"github.com/nextlevelbuilder/neverbot/internal/bus"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// Interaction is the reply surface of one command invocation.
type Interaction interface {
	Reply(ctx context.Context, content string, ephemeral bool) error
	// Defer acknowledges the invocation; the answer follows with Edit.
	Defer(ctx context.Context, ephemeral bool) error
	Edit(ctx context.Context, content string) error
	FollowUp(ctx context.Context, content string, ephemeral bool) error
}

// OptionKind is the type of a command option.
type OptionKind int

const (
	OptionString OptionKind = iota
	OptionChannel
	OptionUser // value is the user id
)

// Option describes one command option, used for slash-command registration.
type Option struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
}

// Invocation is what a handler receives.
type Invocation struct {
	Event       bus.CommandEvent
	Interaction Interaction // already wrapped with the command's profile
	User        *store.UserData   // nil when the profile could not be loaded
	Server      *store.ServerData // nil for DMs or on store failure
}

// Handler runs one command.
type Handler func(ctx context.Context, inv *Invocation) error

// Command is one entry in the registry.
type Command struct {
	Name        string
	Description string
	Options     []Option
	// Profile governs every outbound call made while handling the command.
	// A zero Profile means resilience.DefaultProfile.
	Profile   resilience.Profile
	AdminOnly bool
	Handler   Handler
}

func (c *Command) profile() resilience.Profile {
	if c.Profile == (resilience.Profile{}) {
		return resilience.DefaultProfile()
	}
	return c.Profile
}

// Registry is the static command table. Read-only after construction.
type Registry struct {
	byName map[string]*Command
	order  []*Command
}

// NewRegistry builds a registry. A later command with a duplicate name
// replaces the earlier one.
func NewRegistry(cmds ...*Command) *Registry {
	r := &Registry{byName: make(map[string]*Command, len(cmds))}
	for _, c := range cmds {
		if _, dup := r.byName[c.Name]; !dup {
			r.order = append(r.order, c)
		} else {
			for i, o := range r.order {
				if o.Name == c.Name {
					r.order[i] = c
				}
			}
		}
		r.byName[c.Name] = c
	}
	return r
}

// Get looks up a command by name.
func (r *Registry) Get(name string) (*Command, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// List returns all commands sorted by name.
func (r *Registry) List() []*Command {
	out := append([]*Command(nil), r.order...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
