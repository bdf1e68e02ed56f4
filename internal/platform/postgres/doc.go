// Package postgres contains the PostgreSQL implementations of the store
// interfaces. Session reservation, task claiming and every terminal status
// write are single conditional UPDATE statements so correctness does not
// depend on in-process locking and survives restarts.
package postgres
