// Package store provides persistence for authorized keys and chat sessions.
//
// The Store interface is the single source of truth for AuthorizedKey and
// ChatSession records. SQLiteStore is the production implementation;
// MockStore is an in-memory implementation for tests.
package store
