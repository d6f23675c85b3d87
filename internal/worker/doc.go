// Package worker runs session jobs on a fixed number of goroutines.
// Jobs submitted while every worker is busy wait in an unbounded FIFO backlog,
// so submitters never block.
package worker
