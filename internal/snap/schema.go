package snap

// Schema reports the number of data words carried by items of a type. The
// delta codec only consults it to validate incoming items; it never
// interprets the words themselves.
type Schema interface {
	Arity(typ uint16) (int, bool)
}

// SchemaFunc adapts a function into a Schema.
type SchemaFunc func(typ uint16) (int, bool)

// Arity implements Schema.
func (f SchemaFunc) Arity(typ uint16) (int, bool) {
	if f == nil {
		return 0, false
	}
	return f(typ)
}

// FixedSchema maps item types to their arity.
type FixedSchema map[uint16]int

// Arity implements Schema.
func (s FixedSchema) Arity(typ uint16) (int, bool) {
	n, ok := s[typ]
	return n, ok
}
