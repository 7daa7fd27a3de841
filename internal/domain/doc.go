// Package domain defines the core types, collaborator interfaces and error
// taxonomy shared by every veilroom package.
//
// Key material is carried in fixed-size array types to avoid accidental
// reallocation; the collaborator interfaces (Signaler, DataChannel, RoomAPI)
// are the only surfaces through which the session layer talks to the outside
// world, so tests can substitute in-memory implementations.
package domain
