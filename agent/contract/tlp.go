package contract

import "strings"

// TLPLevel is a Traffic Light Protocol classification.
type TLPLevel string

const (
	TLPClear       TLPLevel = "clear"
	TLPGreen       TLPLevel = "green"
	TLPAmber       TLPLevel = "amber"
	TLPAmberStrict TLPLevel = "amber_strict"
	TLPRed         TLPLevel = "red"
)

var tlpRank = map[TLPLevel]int{
	TLPClear:       0,
	"white":        0,
	TLPGreen:       1,
	TLPAmber:       2,
	TLPAmberStrict: 3,
	TLPRed:         4,
}

// Normalize lowercases the level and maps aliases such as "TLP:WHITE".
func (l TLPLevel) Normalize() TLPLevel {
	s := strings.ToLower(strings.TrimSpace(string(l)))
	s = strings.TrimPrefix(s, "tlp:")
	s = strings.ReplaceAll(s, "+", "_")
	if s == "white" {
		return TLPClear
	}
	return TLPLevel(s)
}

// Valid reports whether l is a known level.
func (l TLPLevel) Valid() bool {
	_, ok := tlpRank[l.Normalize()]
	return ok
}

// Rank orders levels from clear (0) to red (4). Unknown levels rank highest.
func (l TLPLevel) Rank() int {
	if r, ok := tlpRank[l.Normalize()]; ok {
		return r
	}
	return len(tlpRank)
}

// Exceeds reports whether l is more restrictive than other.
func (l TLPLevel) Exceeds(other TLPLevel) bool {
	return l.Rank() > other.Rank()
}
