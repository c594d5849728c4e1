// Package pixelmap maps message characters to LEDs on the 3x10 letter board.
//
// The strip is wired in a serpentine: the top row runs right to left
// (a=29 ... j=20), the middle row left to right (k=10 ... t=19) and the
// bottom row right to left again (u=9 ... .=0).
package pixelmap

// Size is the number of LEDs on the board.
const Size = 30

const columns = 10

// Position is an index into the LED strip, always in [0, Size).
type Position uint8

// rows holds the board layout as seen from the front, top row first.
var rows = [3]string{
	"abcdefghij",
	"klmnopqrst",
	"uvwxyz ?,.",
}

// table is indexed by ASCII code. -1 marks an unmapped character.
var table = build()

func build() [128]int8 {
	var t [128]int8
	for i := range t {
		t[i] = -1
	}
	for r, row := range rows {
		for c := 0; c < len(row); c++ {
			var pos int
			switch r {
			case 0:
				pos = Size - 1 - c
			case 1:
				pos = columns + c
			default:
				pos = columns - 1 - c
			}
			t[row[c]] = int8(pos)
		}
	}
	return t
}

// Lookup returns the LED position for ch. When caseInsensitive is set,
// upper case ASCII letters are folded before the lookup. The second return
// value is false for characters that have no LED.
func Lookup(ch rune, caseInsensitive bool) (Position, bool) {
	if caseInsensitive && ch >= 'A' && ch <= 'Z' {
		ch += 'a' - 'A'
	}
	if ch < 0 || int(ch) >= len(table) {
		return 0, false
	}
	pos := table[ch]
	if pos < 0 {
		return 0, false
	}
	return Position(pos), true
}

// Characters returns every character that has a position, in board order.
func Characters() string {
	return rows[0] + rows[1] + rows[2]
}
