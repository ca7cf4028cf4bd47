// Package postgres implements the backlog store on PostgreSQL using pgx/v5.
// The claim path relies on FOR UPDATE SKIP LOCKED so concurrent claimants
// skip each other's rows without a lock manager.
package postgres
