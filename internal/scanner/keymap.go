package scanner

// HID usage ids of the keys a keyboard-wedge scanner sends
const (
	keyEnter       = 0x28
	keyKeypadEnter = 0x58
)

// Left and right shift bits of the modifier byte
const shiftMask = 0x02 | 0x20

type keyPair struct {
	plain, shifted rune
}

var keymap = buildKeymap()

func buildKeymap() map[byte]keyPair {
	m := make(map[byte]keyPair, 80)

	for i := byte(0); i < 26; i++ {
		m[0x04+i] = keyPair{rune('a' + i), rune('A' + i)}
	}

	digits := "1234567890"
	shiftedDigits := "!@#$%^&*()"
	for i := range digits {
		m[0x1E+byte(i)] = keyPair{rune(digits[i]), rune(shiftedDigits[i])}
	}

	punct := []struct {
		code           byte
		plain, shifted rune
	}{
		{0x2C, ' ', ' '},
		{0x2D, '-', '_'},
		{0x2E, '=', '+'},
		{0x2F, '[', '{'},
		{0x30, ']', '}'},
		{0x31, '\\', '|'},
		{0x33, ';', ':'},
		{0x34, '\'', '"'},
		{0x35, '`', '~'},
		{0x36, ',', '<'},
		{0x37, '.', '>'},
		{0x38, '/', '?'},
		// keypad
		{0x54, '/', '/'},
		{0x55, '*', '*'},
		{0x56, '-', '-'},
		{0x57, '+', '+'},
		{0x63, '.', '.'},
	}
	for _, p := range punct {
		m[p.code] = keyPair{p.plain, p.shifted}
	}

	keypad := "1234567890"
	for i := range keypad {
		r := rune(keypad[i])
		m[0x59+byte(i)] = keyPair{r, r}
	}
	return m
}

// translate maps a key code to its character under the given modifier byte
func translate(code, modifier byte) (rune, bool) {
	p, ok := keymap[code]
	if !ok {
		return 0, false
	}
	if modifier&shiftMask != 0 {
		return p.shifted, true
	}
	return p.plain, true
}

func isEnter(code byte) bool {
	return code == keyEnter || code == keyKeypadEnter
}
