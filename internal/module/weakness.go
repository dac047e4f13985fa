package module

// 常见弱点
// https://cwe.mitre.org/

type CWEData struct {
	ID          string
	Title       string
	Description string
}

var CWEDataMap = map[string]*CWEData{
	"369": {
		"369",
		"Divide By Zero",
		"The divisor of an unsigned division or remainder can be zero under the path constraints. The result is architecture defined and usually traps.",
	},
	"691": {
		"691",
		"Insufficient Control Flow Management",
		"The program counter is loaded from a value the input controls and that value is not unique under the path constraints, so an attacker can choose where execution continues.",
	},
	"787": {
		"787",
		"Out-of-bounds Write",
		"A memory write can reach a watched location, such as a saved return address, under the path constraints. Writing past the end of a buffer into such a location usually leads to control flow hijacking.",
	},
	"822": {
		"822",
		"Untrusted Pointer Dereference",
		"A memory access uses an address that depends on input. An attacker that controls the address can read or write arbitrary memory.",
	},
}
