// Package storage is the member directory: users, their outstanding ping
// records, and the punishment records written when a ping goes unanswered.
//
// Reads go through a composable query spec (see query.go) that renders to
// SQL for the sqlite store and evaluates in memory for test fakes, so the
// eligibility pipeline can be exercised without a database.
package storage
