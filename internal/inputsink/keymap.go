package inputsink

// Abstract key codes carried on the wire follow the sender's own key enum
// (ASCII for printable characters, a separate range for function and
// navigation keys) rather than any one OS's virtual-key space, so the
// injector needs its own fixed translation table — same role as
// mapIntKeyToVK in the original, rebuilt against Windows VK_* codes since
// that's the only production backend this module targets.
const (
	keyEscape    = 0x01000000
	keyTab       = 0x01000001
	keyBackspace = 0x01000003
	keyReturn    = 0x01000004
	keyEnter     = 0x01000005
	keyInsert    = 0x01000006
	keyDelete    = 0x01000007
	keyHome      = 0x01000010
	keyEnd       = 0x01000011
	keyLeft      = 0x01000012
	keyUp        = 0x01000013
	keyRight     = 0x01000014
	keyDown      = 0x01000015
	keyPageUp    = 0x01000016
	keyPageDown  = 0x01000017
	keyShift     = 0x01000020
	keyControl   = 0x01000021
	keyAlt       = 0x01000023
	keyCapsLock  = 0x01000024
	keyF1        = 0x01000030
	keyF12       = 0x0100003b
)

const (
	vkBack    = 0x08
	vkTab     = 0x09
	vkReturn  = 0x0d
	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12 // Alt
	vkCapital = 0x14
	vkEscape  = 0x1b
	vkSpace   = 0x20
	vkPrior   = 0x21 // Page Up
	vkNext    = 0x22 // Page Down
	vkEnd     = 0x23
	vkHome    = 0x24
	vkLeft    = 0x25
	vkUp      = 0x26
	vkRight   = 0x27
	vkDown    = 0x28
	vkInsert  = 0x2d
	vkDelete  = 0x2e
	vkF1      = 0x70

	vkOEM1      = 0xba // ;:
	vkOEMPlus   = 0xbb
	vkOEMComma  = 0xbc
	vkOEMMinus  = 0xbd
	vkOEMPeriod = 0xbe
	vkOEM2      = 0xbf // /?
	vkOEM4      = 0xdb // [{
	vkOEM5      = 0xdc // \|
	vkOEM6      = 0xdd // ]}
	vkOEM7      = 0xde // '"
)

// virtualKeyFor maps one abstract protocol key code to a Windows virtual-key
// code. Letters and digits share their ASCII value with the VK space and
// pass straight through, as does the F1–F12 range by offset; everything
// else, punctuation included, goes through the fixed table below. Unmapped codes report false so the
// caller can log and drop the event rather than inject garbage.
func virtualKeyFor(key int32) (uint16, bool) {
	switch {
	case key >= 'A' && key <= 'Z':
		return uint16(key), true
	case key >= '0' && key <= '9':
		return uint16(key), true
	case key >= keyF1 && key <= keyF12:
		return uint16(vkF1 + (key - keyF1)), true
	}

	switch key {
	case keyEscape:
		return vkEscape, true
	case keyTab:
		return vkTab, true
	case keyBackspace:
		return vkBack, true
	case keyReturn, keyEnter:
		return vkReturn, true
	case keyInsert:
		return vkInsert, true
	case keyDelete:
		return vkDelete, true
	case keyHome:
		return vkHome, true
	case keyEnd:
		return vkEnd, true
	case keyLeft:
		return vkLeft, true
	case keyUp:
		return vkUp, true
	case keyRight:
		return vkRight, true
	case keyDown:
		return vkDown, true
	case keyPageUp:
		return vkPrior, true
	case keyPageDown:
		return vkNext, true
	case keyShift:
		return vkShift, true
	case keyControl:
		return vkControl, true
	case keyAlt:
		return vkMenu, true
	case keyCapsLock:
		return vkCapital, true
	case ' ':
		return vkSpace, true
	case ',':
		return vkOEMComma, true
	case '.':
		return vkOEMPeriod, true
	case '/':
		return vkOEM2, true
	case ';':
		return vkOEM1, true
	case '\'':
		return vkOEM7, true
	case '[':
		return vkOEM4, true
	case ']':
		return vkOEM6, true
	case '\\':
		return vkOEM5, true
	case '-':
		return vkOEMMinus, true
	case '=':
		return vkOEMPlus, true
	}

	return 0, false
}
