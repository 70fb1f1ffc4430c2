package models

import "encoding/json"

// NodeSpec is the definition-time shape of one node in a WorkflowDefinition
// graph. A Node's Type drives Kind ("simple", "parallel", "loop") and its
// Config map carries the rest, keyed exactly as the fields below, so a
// NodeSpec round-trips through Node.Config the same way Workflow.Clone
// round-trips a whole workflow through JSON.
type NodeSpec struct {
	Kind string `json:"kind"`

	// simple
	Executor  string                 `json:"executor,omitempty"`
	InputData map[string]interface{} `json:"inputData,omitempty"`

	// parallel
	Branches   []*NodeSpec        `json:"branches,omitempty"`
	JoinPolicy ParallelJoinPolicy `json:"joinPolicy,omitempty"`

	// loop
	Source         *NodeSpecSource     `json:"source,omitempty"`
	Child          *NodeSpec           `json:"child,omitempty"`
	ExecutorConfig *LoopExecutorConfig `json:"executorConfig,omitempty"`

	// onChildFailure governs parallel/loop reaction to a failed child;
	// default resolved by DefaultChildFailurePolicy when empty.
	OnChildFailure ChildFailurePolicy `json:"onChildFailure,omitempty"`
}

// NodeSpecSource names the executor (and its static config) that produces a
// loop node's items[].
type NodeSpecSource struct {
	Executor string                 `json:"executor"`
	Config   map[string]interface{} `json:"config,omitempty"`
}

// LoopExecutorConfig controls how a loop's children are advanced.
type LoopExecutorConfig struct {
	Parallel    bool `json:"parallel"`
	Concurrency int  `json:"concurrency,omitempty"`
}

// NodeSpecFromNode decodes a Node's Config into a NodeSpec, the same
// marshal/unmarshal round trip Workflow.Clone uses for deep copies. Kind is
// always taken from the node's Type, not from Config, so the two can never
// disagree.
func NodeSpecFromNode(n *Node) (*NodeSpec, error) {
	data, err := json.Marshal(n.Config)
	if err != nil {
		return nil, err
	}
	spec := &NodeSpec{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, spec); err != nil {
			return nil, err
		}
	}
	spec.Kind = n.Type
	if spec.JoinPolicy == "" {
		spec.JoinPolicy = JoinPolicyAll
	}
	if spec.OnChildFailure == "" {
		spec.OnChildFailure = ChildFailureContinue
	}
	return spec, nil
}

// DefaultChildFailurePolicy is the resolved default for onChildFailure; see
// spec.md §9 Open Question #2.
func DefaultChildFailurePolicy() ChildFailurePolicy {
	return ChildFailureContinue
}
