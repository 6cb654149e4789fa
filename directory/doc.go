// Copyright (c) Weather Marketplace Authors.
// Licensed under the MIT License.

/*
Package directory implements the agent directory: the place agents register
their webhook endpoint and capability, and clients search for priced agents.

# Core types

  - Capability / Pricing: the structured descriptor an agent registers with.
    Validate rejects malformed descriptors before they are sent; Readme renders
    the XML-like readme searches match against.
  - Store: persistence (MemoryStore, RedisStore over internal/cache, GormStore
    over internal/database for sqlite, postgres and mysql).
  - Registry: registration with an ownership proof (the identity's signature
    over "address|url"), resolution, removal and term-count ranked search.
  - TokenIssuer: HS256 bearer tokens guarding registration and removal.
  - Client: HTTP client of a remote directory, used by every marketplace
    process at startup and by discovery and dispatch.

ParsePrice extracts the price of agents that publish only a readme.
*/
package directory
