// Package vm implements the object-model core of the managed runtime.
//
// This package contains:
//   - Type and class descriptors, and the registry that owns them
//   - The object memory view used for every typed read and write
//   - Array indexing, bounds checking and widening coercion
//   - Binding-flag filtered reflection over class hierarchies
//   - Enum literal decoding from the module blob heap
//   - Static and instance field access
//   - The internal-call table that exposes all of the above by name
package vm
