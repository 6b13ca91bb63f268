// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines the set of supported operators used in query criteria.
package core

// Operator is a criteria key understood by the storage collaborators.
//
// The names follow the MongoDB query language, which every driver accepts
// as its descriptor format.
type Operator = string

const (
	// Logical operators
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"
	OpNor Operator = "$nor"

	// Value-based operators
	OpEq      Operator = "$eq"      // field = value
	OpNe      Operator = "$ne"      // field != value
	OpGt      Operator = "$gt"      // field > value
	OpGte     Operator = "$gte"     // field >= value
	OpLt      Operator = "$lt"      // field < value
	OpLte     Operator = "$lte"     // field <= value
	OpIn      Operator = "$in"      // field IN (value list)
	OpNin     Operator = "$nin"     // field NOT IN (value list)
	OpExists  Operator = "$exists"  // field present (true) or absent (false)
	OpRegex   Operator = "$regex"   // field matches pattern
	OpOptions Operator = "$options" // flags of a $regex
)

// IsOperator reports whether key is an operator rather than a field name.
func IsOperator(key string) bool {
	return len(key) > 0 && key[0] == '$'
}
