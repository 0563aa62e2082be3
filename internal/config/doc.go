// Package config handles configuration loading for coven-assistant.
//
// # Overview
//
// Configuration is loaded from a TOML or YAML file, chosen by extension,
// with environment variable expansion, defaults and validation.
//
// # Environment Variable Expansion
//
// Values can reference environment variables before decoding:
//
//	[llm.openai]
//	token = "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax and are decoded from raw strings:
//
//	llm.openai.timeout, tools.timeout, platform.http.token_ttl
//
// # Configuration Sections
//
//	[assistant]
//	identity = "natsuki"
//	time_zone = "Asia/Tokyo"
//
//	[assistant.identities.natsuki]
//	system_role = "You are Natsuki."
//	sensitive_marker = "[NSFW]"
//
//	[llm]
//	backend = "openai"
//	[llm.openai]
//	model = "gpt-4.1-mini"
//	max_tokens = 1024
//	use_structured_output = true
//
//	[storage]
//	backend = "sqlite"            # sqlite, memory, redis
//	[storage.sqlite]
//	path = "./coven-assistant.db"
//
//	[platform.cli]
//	enabled = true
//
// See Config for the tools, platform.matrix, platform.http, tailscale and
// logging sections.
package config
