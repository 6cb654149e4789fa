/*
Package envelope implements the signed message envelope exchanged between the
weather client and weather agents.

An envelope names its sender and target by agent address, groups a request and
its reply under one session, tags the payload with a schema digest, and carries
the payload itself as base64-encoded JSON. The sender signs a SHA-256 digest of
every other field with the ed25519 key behind its address, so a receiver can
authenticate an envelope without a key lookup.

  - Seal builds and signs an outbound envelope.
  - Opener.Open decodes, verifies and unwraps an inbound one.
  - AsError maps codec failures to the INVALID_ENVELOPE error kind.
*/
package envelope
