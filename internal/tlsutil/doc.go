// Package tlsutil builds the hardened HTTP clients used for every outbound
// call: directory lookups, envelope delivery and LLM requests.
package tlsutil
