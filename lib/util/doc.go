// Package util provides small building blocks shared by the partition runtime.
//
// The package contains:
//   - mailbox: a lock-free multi-producer single-consumer queue with a wake-up channel, used as
//     the inbox of every partition goroutine
//   - functions: hash helpers used to derive stable ids from names
package util
