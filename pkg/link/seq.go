package link

// Sequence numbers are three bits wide and every comparison between them is
// made modulo 8 relative to a base, never on the raw values.

// NextSeq returns n+1 modulo 8
func NextSeq(n uint8) uint8 {
	return (n + 1) % SeqModulus
}

// SeqDistance returns how many increments lead from one sequence number to another
func SeqDistance(from, to uint8) uint8 {
	return (to - from) % SeqModulus
}

// SeqOlder reports whether a was sent before b, counting from base.
// Both a and b must lie within the window that starts at base.
func SeqOlder(a, b, base uint8) bool {
	return SeqDistance(base, a) < SeqDistance(base, b)
}

// SeqInRange reports whether n lies in the half-open range [from, to)
func SeqInRange(n, from, to uint8) bool {
	return SeqDistance(from, n) < SeqDistance(from, to)
}
