// Package cluster describes the static topology of a training run: which
// roles exist, which network endpoints serve them, and where this process
// sits. The topology is loaded once at startup and never mutated.
package cluster

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

// Role is the closed set of process roles in a run. Roles are parsed from
// configuration, never synthesized at runtime.
type Role string

const (
	RoleCoordinator     Role = "coordinator"
	RoleWorker          Role = "worker"
	RoleParameterHolder Role = "parameter-holder"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCoordinator, RoleWorker, RoleParameterHolder:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", pkgerrors.ErrUnknownRole, s)
	}
}

// Topology maps each role to its ordered list of network endpoints. A zero
// Topology means single-process mode.
type Topology struct {
	Endpoints map[Role][]string `json:"cluster" toml:"cluster"`
}

func (t Topology) Empty() bool {
	return len(t.Endpoints) == 0
}

// Assignment identifies this process's place in the topology.
type Assignment struct {
	Role  Role `json:"role"  toml:"role"`
	Index int  `json:"index" toml:"index"`
}

// IsPrimary reports whether this process is the single authoritative
// coordinator replica.
func (a Assignment) IsPrimary() bool {
	return a.Role == RoleCoordinator && a.Index == 0
}

func (a Assignment) String() string {
	return fmt.Sprintf("%s/%d", a.Role, a.Index)
}

// Spec is the environment-supplied cluster document: topology plus this
// process's task assignment. Absence of the cluster section implies
// single-process mode with an implicit primary-coordinator task.
type Spec struct {
	Topology   Topology
	Assignment Assignment
}

type specDoc struct {
	Cluster map[string][]string `json:"cluster" toml:"cluster"`
	Task    struct {
		Role  string `json:"role"  toml:"role"`
		Index int    `json:"index" toml:"index"`
	} `json:"task" toml:"task"`
}

// Parse decodes a JSON cluster document. An empty document yields the
// single-process default.
func Parse(raw []byte) (Spec, error) {
	if len(raw) == 0 {
		return defaultSpec(), nil
	}

	var doc specDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Spec{}, fmt.Errorf("failed to parse cluster config: %w", err)
	}

	return fromDoc(doc)
}

// ParseFile decodes a TOML cluster document from disk.
func ParseFile(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("unable to open cluster file %q: %w", path, err)
	}

	var doc specDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return Spec{}, fmt.Errorf("failed to parse cluster file %q: %w", path, err)
	}

	return fromDoc(doc)
}

func fromDoc(doc specDoc) (Spec, error) {
	spec := defaultSpec()

	if len(doc.Cluster) > 0 {
		spec.Topology.Endpoints = make(map[Role][]string, len(doc.Cluster))
		for name, endpoints := range doc.Cluster {
			role, err := ParseRole(name)
			if err != nil {
				return Spec{}, err
			}
			spec.Topology.Endpoints[role] = endpoints
		}
	}

	if doc.Task.Role != "" {
		role, err := ParseRole(doc.Task.Role)
		if err != nil {
			return Spec{}, err
		}
		spec.Assignment = Assignment{Role: role, Index: doc.Task.Index}
	}

	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}

	return spec, nil
}

func defaultSpec() Spec {
	return Spec{Assignment: Assignment{Role: RoleCoordinator, Index: 0}}
}

// Validate enforces the topology invariants: the assignment must fit inside
// the topology and exactly one process may claim the primary coordinator
// slot. Violations are fatal configuration errors.
func (s Spec) Validate() error {
	if s.Assignment.Role == "" {
		return pkgerrors.ErrUnknownRole
	}
	if s.Assignment.Index < 0 {
		return fmt.Errorf("task index must not be negative, got %d", s.Assignment.Index)
	}

	if s.Topology.Empty() {
		if !s.Assignment.IsPrimary() {
			return fmt.Errorf("single-process mode requires the primary coordinator task, got %s", s.Assignment)
		}

		return nil
	}

	endpoints, ok := s.Topology.Endpoints[s.Assignment.Role]
	if !ok {
		return fmt.Errorf("%w: topology has no %q entries", pkgerrors.ErrUnknownRole, s.Assignment.Role)
	}
	if s.Assignment.Index >= len(endpoints) {
		return fmt.Errorf("task index %d out of range for role %q with %d endpoints", s.Assignment.Index, s.Assignment.Role, len(endpoints))
	}

	if s.Assignment.Role == RoleCoordinator {
		if len(s.Topology.Endpoints[RoleCoordinator]) > 1 {
			return fmt.Errorf("%w: topology lists %d coordinator replicas", pkgerrors.ErrDuplicatePrimary, len(s.Topology.Endpoints[RoleCoordinator]))
		}
		if s.Assignment.Index != 0 {
			return fmt.Errorf("%w: coordinator claimed index %d", pkgerrors.ErrDuplicatePrimary, s.Assignment.Index)
		}
	}

	return nil
}

// ParameterHolders returns the parameter-holder endpoints, if any.
func (t Topology) ParameterHolders() []string {
	return t.Endpoints[RoleParameterHolder]
}
