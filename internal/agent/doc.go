// Package agent manages the set of configured agent profiles a session's
// chatkey.Key.AgentID selects between.
//
// # Modes
//
// Profiles operate in one of three modes:
//
//   - ModePrimary: selectable directly by a client as the main agent
//   - ModeSubagent: invocable only as a delegate via another agent's tool calls
//   - ModeAll: usable in both contexts
//
// # Registry
//
// The [Registry] type manages profiles with thread-safe operations:
//
//	registry := agent.NewRegistry()  // seeded with the default profile
//	registry.Register(customProfile)
//	profile, err := registry.Get("researcher")
//	primary := registry.ListPrimary()
//
// # Configuration
//
// Profiles can be loaded or overridden from configuration via
// [Registry.LoadFromConfig]:
//
//	registry.LoadFromConfig(map[string]agent.Config{
//	    "researcher": {
//	        Description:  "Answers questions using the search tool",
//	        Mode:         agent.ModePrimary,
//	        Model:        agent.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-20250514"},
//	        SystemPrompt: "You are a careful research assistant.",
//	    },
//	})
package agent
