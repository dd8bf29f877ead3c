package tmux

import "strings"

// SpecialKey is a canonical tmux send-keys token.
type SpecialKey string

const (
	KeyEnter     SpecialKey = "Enter"
	KeyEscape    SpecialKey = "Escape"
	KeyTab       SpecialKey = "Tab"
	KeySpace     SpecialKey = "Space"
	KeyBackspace SpecialKey = "BSpace"
	KeyDelete    SpecialKey = "DC"

	KeyCtrlC SpecialKey = "C-c"
	KeyCtrlD SpecialKey = "C-d"
	KeyCtrlZ SpecialKey = "C-z"
	KeyCtrlL SpecialKey = "C-l"
	KeyCtrlA SpecialKey = "C-a"
	KeyCtrlE SpecialKey = "C-e"
	KeyCtrlK SpecialKey = "C-k"
	KeyCtrlU SpecialKey = "C-u"
	KeyCtrlW SpecialKey = "C-w"
	KeyCtrlR SpecialKey = "C-r"

	KeyUp    SpecialKey = "Up"
	KeyDown  SpecialKey = "Down"
	KeyLeft  SpecialKey = "Left"
	KeyRight SpecialKey = "Right"

	KeyHome     SpecialKey = "Home"
	KeyEnd      SpecialKey = "End"
	KeyPageUp   SpecialKey = "PPage"
	KeyPageDown SpecialKey = "NPage"
)

// canonical maps normalized names to their tmux tokens. Normalization
// upper-cases and turns dashes into underscores, so both "page-up" and
// "PAGE_UP" land here.
var canonical = map[string]SpecialKey{
	"TAB":       KeyTab,
	"SPACE":     KeySpace,
	"UP":        KeyUp,
	"DOWN":      KeyDown,
	"LEFT":      KeyLeft,
	"RIGHT":     KeyRight,
	"HOME":      KeyHome,
	"END":       KeyEnd,
	"PAGE_UP":   KeyPageUp,
	"PPAGE":     KeyPageUp,
	"PAGE_DOWN": KeyPageDown,
	"NPAGE":     KeyPageDown,
}

// ctrl maps the letter of a control chord to its token.
var ctrl = map[string]SpecialKey{
	"C": KeyCtrlC, "D": KeyCtrlD, "Z": KeyCtrlZ, "L": KeyCtrlL,
	"A": KeyCtrlA, "E": KeyCtrlE, "K": KeyCtrlK, "U": KeyCtrlU,
	"W": KeyCtrlW, "R": KeyCtrlR,
}

// LookupKey resolves a user-supplied key name to its tmux token. Aliases are
// accepted case-insensitively: ENTER/RETURN/CR, ESC/ESCAPE, BACKSPACE/BS/
// BSPACE, DEL/DELETE/DC, CTRL_C/C_C/CTRLC and friends, F1..F12.
func LookupKey(name string) (SpecialKey, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "ENTER", "RETURN", "CR":
		return KeyEnter, true
	case "ESC", "ESCAPE":
		return KeyEscape, true
	case "BACKSPACE", "BS", "BSPACE":
		return KeyBackspace, true
	case "DELETE", "DEL", "DC":
		return KeyDelete, true
	}
	if key, ok := canonical[normalized]; ok {
		return key, true
	}
	if letter, ok := strings.CutPrefix(normalized, "CTRL_"); ok {
		if key, found := ctrl[letter]; found {
			return key, true
		}
	}
	if letter, ok := strings.CutPrefix(normalized, "CTRL"); ok {
		if key, found := ctrl[letter]; found {
			return key, true
		}
	}
	if letter, ok := strings.CutPrefix(normalized, "C_"); ok {
		if key, found := ctrl[letter]; found {
			return key, true
		}
	}
	if isFunctionKey(normalized) {
		return SpecialKey("F" + normalized[1:]), true
	}
	return "", false
}

func isFunctionKey(name string) bool {
	if len(name) < 2 || len(name) > 3 || name[0] != 'F' {
		return false
	}
	switch name[1:] {
	case "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12":
		return true
	}
	return false
}
