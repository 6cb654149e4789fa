/*
Package database opens the SQL database behind the directory store and
manages its connection pool.

Open picks the gorm dialector from config.DatabaseConfig (glebarez/sqlite,
postgres or mysql) and returns a PoolManager that sizes the pool, pings it in
the background and runs transactions, retrying the transient failures
(deadlocks, serialization failures, lost connections, sqlite busy).
*/
package database
