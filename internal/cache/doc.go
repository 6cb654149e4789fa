// Copyright (c) Weather Marketplace Authors.
// Licensed under the MIT License.

/*
Package cache manages the Redis connection shared by the Redis-backed
mailbox and directory store.

# Core types

  - Manager: owns a go-redis client; NewManager pings before returning,
    a background loop pings every HealthCheckInterval and Close stops it.
  - Config: address, credentials, pool sizing, default TTL.

GetJSON / SetJSON cover the simple keyed records; stores needing lists or
transactions use Client directly.
*/
package cache
