package game

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Digest computes a deterministic checksum of a board. Two peers holding
// equal States always compute equal digests, so a digest carried next to a
// broadcast state detects corruption in transit.
func Digest(s State) string {
	sum := blake2b.Sum256(canonical(s))
	return hex.EncodeToString(sum[:])
}

// canonical builds a representation that is independent of JSON encoding
// choices (nil vs empty slices, key order).
func canonical(s State) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "MOVES:%d\n", s.Moves)
	for i, col := range s.Columns {
		fmt.Fprintf(&buf, "C%d:", i)
		writeCards(&buf, col)
	}
	buf.WriteString("F:")
	writeCards(&buf, s.FreeCells[:])
	for _, suit := range Suits {
		fmt.Fprintf(&buf, "H%s:", suit)
		writeCards(&buf, s.Foundations[suit])
	}
	return buf.Bytes()
}

func writeCards(buf *bytes.Buffer, cards []Card) {
	for i, c := range cards {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(c.String())
	}
	buf.WriteByte('\n')
}
