package memutils

// Validatable is a structure that can check its own bookkeeping, such as a block allocator
// confirming that its used and free ranges still tile its buffer. DebugValidate runs the check.
type Validatable interface {
	Validate() error
}
