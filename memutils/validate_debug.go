//go:build debug_quartermaster

package memutils

// DebugValidate panics with the error of validatable.Validate. Builds without the
// debug_quartermaster tag skip the check.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics when value is not a power of two. Builds without the debug_quartermaster
// tag skip the check.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
