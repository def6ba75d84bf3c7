// Package config loads settings from an optional agentflow.{yaml,toml,json}
// file and AGENTFLOW_-prefixed environment variables, applies defaults and
// validates the result with struct tags.
package config
