// Package config loads topologies from YAML documents. Factories are bound
// to actor roles by name through a Registry.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gokit/actorcore"
	"github.com/gokit/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownFactory is returned when a child names a factory missing
	// from the Registry.
	ErrUnknownFactory = errors.New("factory is not registered")

	// ErrInvalidConfig is returned for documents which can not describe
	// a topology.
	ErrInvalidConfig = errors.New("invalid topology config")
)

//*****************************************************************************
// Duration
//*****************************************************************************

// Duration is a time.Duration written as a Go duration string, "250ms".
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrap(err, "line %d: invalid duration %q", value.Line, raw)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

//*****************************************************************************
// Registry
//*****************************************************************************

// Registry maps factory names used in documents to actor factories.
type Registry map[string]actorcore.Factory

// Register adds fn under name, returning the registry.
func (r Registry) Register(name string, fn actorcore.Factory) Registry {
	r[name] = fn
	return r
}

//*****************************************************************************
// Config
//*****************************************************************************

// Config is the document form of a topology.
type Config struct {
	Name           string     `yaml:"name"`
	EventBuffer    int        `yaml:"event_buffer"`
	TraceMailboxes bool       `yaml:"trace_mailboxes"`
	Root           Supervisor `yaml:"root"`
}

// Supervisor is the document form of a supervised group.
type Supervisor struct {
	Name            string       `yaml:"name"`
	Policy          string       `yaml:"policy"`
	Backoff         Backoff      `yaml:"backoff"`
	MaxRestarts     int          `yaml:"max_restarts"`
	Window          Duration     `yaml:"window"`
	Router          Router       `yaml:"router"`
	ShutdownTimeout Duration     `yaml:"shutdown_timeout"`
	Termination     string       `yaml:"termination"`
	Children        []Child      `yaml:"children"`
	Groups          []Supervisor `yaml:"groups"`
}

// Backoff is the document form of actorcore.Backoff.
type Backoff struct {
	Min        Duration `yaml:"min"`
	Max        Duration `yaml:"max"`
	ResetAfter Duration `yaml:"reset_after"`
}

// Router selects the router of a group. It is written either as its kind
// alone or as a mapping with a key source for the key router:
// "message" or "header:<name>".
type Router struct {
	Kind string `yaml:"kind"`
	Key  string `yaml:"key"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *Router) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Kind = value.Value
		return nil
	}

	type plain Router
	return value.Decode((*plain)(r))
}

// Child is the document form of a supervised role.
type Child struct {
	Role     string   `yaml:"role"`
	Factory  string   `yaml:"factory"`
	Replicas int      `yaml:"replicas"`
	Mailbox  Mailbox  `yaml:"mailbox"`
	Grace    Duration `yaml:"grace"`
}

// Mailbox is the document form of actorcore.MailboxOptions.
type Mailbox struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"`
}

// Load decodes a document from r, rejecting unknown fields.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode topology config")
	}

	if cfg.Name == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "topology requires a name")
	}
	return &cfg, nil
}

// LoadFile decodes the document at giving path.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open topology config %q", path)
	}
	defer file.Close()

	return Load(file)
}

// Build returns the topology described by the document, with factories
// taken from registry.
func (c *Config) Build(registry Registry) (actorcore.TopologyConfig, error) {
	root, err := c.Root.build(registry, c.Name)
	if err != nil {
		return actorcore.TopologyConfig{}, err
	}

	return actorcore.TopologyConfig{
		Name:           c.Name,
		Root:           root,
		EventBuffer:    c.EventBuffer,
		TraceMailboxes: c.TraceMailboxes,
	}, nil
}

func (s Supervisor) build(registry Registry, fallbackName string) (actorcore.SupervisorConfig, error) {
	name := s.Name
	if name == "" {
		name = fallbackName
	}

	policy, err := parsePolicy(s.Policy)
	if err != nil {
		return actorcore.SupervisorConfig{}, errors.Wrap(err, "group %q", name)
	}

	termination, err := parseTermination(s.Termination)
	if err != nil {
		return actorcore.SupervisorConfig{}, errors.Wrap(err, "group %q", name)
	}

	router, err := s.Router.build()
	if err != nil {
		return actorcore.SupervisorConfig{}, errors.Wrap(err, "group %q", name)
	}

	sc := actorcore.SupervisorConfig{
		Name:   name,
		Policy: policy,
		Backoff: actorcore.Backoff{
			Min:        time.Duration(s.Backoff.Min),
			Max:        time.Duration(s.Backoff.Max),
			ResetAfter: time.Duration(s.Backoff.ResetAfter),
		},
		MaxRestarts:     s.MaxRestarts,
		Window:          time.Duration(s.Window),
		Router:          router,
		ShutdownTimeout: time.Duration(s.ShutdownTimeout),
		Termination:     termination,
	}

	for _, child := range s.Children {
		specs, err := child.build(registry)
		if err != nil {
			return sc, errors.Wrap(err, "group %q", name)
		}
		sc.Actors = append(sc.Actors, specs...)
	}

	for _, group := range s.Groups {
		if group.Name == "" {
			return sc, errors.Wrap(ErrInvalidConfig, "group in %q requires a name", name)
		}

		gc, err := group.build(registry, group.Name)
		if err != nil {
			return sc, err
		}
		sc.Groups = append(sc.Groups, gc)
	}

	return sc, nil
}

func (r Router) build() (actorcore.Router, error) {
	switch strings.ToLower(r.Kind) {
	case "", "round_robin":
		return actorcore.NewRoundRobinRouter(), nil
	case "broadcast":
		return actorcore.NewBroadcastRouter(), nil
	case "random":
		return actorcore.NewRandomRouter(), nil
	case "key":
		key, err := parseKey(r.Key)
		if err != nil {
			return nil, err
		}
		return actorcore.NewKeyRouter(key, nil), nil
	}
	return nil, errors.Wrap(ErrInvalidConfig, "unknown router %q", r.Kind)
}

func (c Child) build(registry Registry) ([]actorcore.ActorSpec, error) {
	if c.Role == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "child requires a role")
	}

	name := c.Factory
	if name == "" {
		name = c.Role
	}

	factory, ok := registry[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownFactory, "factory %q of role %q", name, c.Role)
	}

	overflow, err := parseOverflow(c.Mailbox.Overflow)
	if err != nil {
		return nil, errors.Wrap(err, "role %q", c.Role)
	}

	spec := actorcore.ActorSpec{
		Role:    c.Role,
		Factory: factory,
		Mailbox: actorcore.MailboxOptions{
			Capacity: c.Mailbox.Capacity,
			Overflow: overflow,
		},
		Grace: time.Duration(c.Grace),
	}

	if c.Replicas <= 1 {
		return []actorcore.ActorSpec{spec}, nil
	}

	specs := make([]actorcore.ActorSpec, 0, c.Replicas)
	for i := 1; i <= c.Replicas; i++ {
		replica := spec
		replica.Role = ReplicaRole(c.Role, i)
		specs = append(specs, replica)
	}
	return specs, nil
}

// ReplicaRole returns the role name of the nth replica of role, counted
// from one.
func ReplicaRole(role string, n int) string {
	return role + "." + strconv.Itoa(n)
}

func parsePolicy(policy string) (actorcore.RestartPolicy, error) {
	switch strings.ToLower(policy) {
	case "", "on_failure":
		return actorcore.OnFailure, nil
	case "always":
		return actorcore.Always, nil
	case "never":
		return actorcore.Never, nil
	}
	return actorcore.OnFailure, errors.Wrap(ErrInvalidConfig, "unknown restart policy %q", policy)
}

func parseTermination(termination string) (actorcore.TerminationPolicy, error) {
	switch strings.ToLower(termination) {
	case "", "closing":
		return actorcore.Closing, nil
	case "manually":
		return actorcore.Manually, nil
	}
	return actorcore.Closing, errors.Wrap(ErrInvalidConfig, "unknown termination policy %q", termination)
}

func parseOverflow(overflow string) (actorcore.Overflow, error) {
	switch strings.ToLower(overflow) {
	case "", "block":
		return actorcore.Block, nil
	case "fail_fast":
		return actorcore.FailFast, nil
	}
	return actorcore.Block, errors.Wrap(ErrInvalidConfig, "unknown mailbox overflow %q", overflow)
}

func parseKey(key string) (actorcore.KeyFunc, error) {
	switch {
	case key == "" || key == "message":
		return actorcore.MessageKey, nil
	case strings.HasPrefix(key, "header:") && len(key) > len("header:"):
		return actorcore.HeaderKey(strings.TrimPrefix(key, "header:")), nil
	}
	return nil, errors.Wrap(ErrInvalidConfig, "unknown routing key %q", key)
}
