// Package llm defines the provider-neutral completion contract used by the
// input firewall and the orchestrator, together with the fixed table mapping
// model names to providers. Concrete HTTP adapters live in llm/openai and
// llm/anthropic; llm/provider selects one from configuration.
package llm
