// Package agent holds the configured agent profiles selectable by
// chatkey.Key.AgentID: the system prompt, model reference, and sampling
// parameters the composition root uses to build an agentloop.Loop for a
// session. go-opencode's internal/agent.Agent folded tool-permission
// policing (Tools/Permission/doom-loop wildcard matching) in alongside
// model selection; that policing now lives in internal/approval, gated
// by tool name against the approval policy rather than per-agent
// bash/edit permission maps, so Profile keeps only what selects model
// behavior.
package agent

// Mode marks whether a profile may be selected directly by a client, or
// only invoked as a delegate by another profile's tool calls.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// ModelRef names the provider and model a profile runs against.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// Profile is one configured agent: the system prompt and model
// parameters bound to a chatkey.Key.AgentID.
type Profile struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Mode         Mode     `json:"mode"`
	Model        ModelRef `json:"model"`
	Temperature  float64  `json:"temperature,omitempty"`
	TopP         float64  `json:"topP,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
}

// IsPrimary reports whether the profile may be selected directly.
func (p *Profile) IsPrimary() bool {
	return p.Mode == ModePrimary || p.Mode == ModeAll
}

// IsSubagent reports whether the profile may be invoked as a delegate.
func (p *Profile) IsSubagent() bool {
	return p.Mode == ModeSubagent || p.Mode == ModeAll
}

// Clone returns a copy safe to mutate independently of p.
func (p *Profile) Clone() *Profile {
	clone := *p
	return &clone
}

// Default is the profile used when a key's AgentID names no configured
// profile, matching spec.md §4.1's fallback to a single default agent.
func Default() *Profile {
	return &Profile{
		Name:        "default",
		Description: "General-purpose conversational agent",
		Mode:        ModeAll,
		Temperature: 0.7,
	}
}
