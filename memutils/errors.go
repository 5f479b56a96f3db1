package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// PartitionError is the error returned from Validate methods when tracked ranges no longer
// cover their buffer exactly once
var PartitionError error = errors.New("ranges do not partition the buffer")
