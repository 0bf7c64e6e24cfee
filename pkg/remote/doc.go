// Package remote defines the contract between the data-synchronization core
// and the hosted backend it reads from and writes to.
//
// A backend adapter implements [Collaborator]: reads ([Reader]), writes
// ([Writer]), remote procedure calls ([Invoker]) and live change feeds
// ([Subscriber]). The core never talks to a backend any other way, so every
// component can be tested against the in-memory adapter in
// github.com/whyfailclub/whyfail.go/pkg/backend/memory.
//
// A single-row read that matches nothing fails with constants.ErrNoRows.
// That outcome is an expected absence, not a failure; see [IsNoRows].
package remote
