// Package config loads the configuration of the marketplace services.
//
// Values are layered: built-in defaults, a role preset (client, budget or
// luxury weather agent, directory), an optional YAML file, WEATHER_* environment
// overrides, and finally credentials read from their conventional variables
// (the seed variable named by identity.seed_env, AGENTVERSE_API_KEY,
// ANTHROPIC_API_KEY, OPENAI_API_KEY).
package config
