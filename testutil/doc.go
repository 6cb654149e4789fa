/*
Package testutil holds fixtures shared by the package tests.

# Capabilities

  - Contexts: TestContext and TestContextWithTimeout cancel on cleanup
  - Identities: Identity derives a deterministic identity from a seed
  - Envelopes: Seal signs and encodes a message for webhook tests
  - Redis: Redis runs miniredis behind a cache.Manager

Packages imported by testutil (envelope, identity, internal/cache) cannot use
it from their own in-package tests.
*/
package testutil
