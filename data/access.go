package data

import "fmt"

// Access is the way a service uses a bound object.
type Access int

// Access modes.
const (
	AccessIn Access = iota
	AccessInOut
	AccessOut
)

func (a Access) String() string {
	switch a {
	case AccessIn:
		return "in"
	case AccessInOut:
		return "inout"
	case AccessOut:
		return "out"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// ParseAccess maps a configuration section name to an Access.
func ParseAccess(s string) (Access, bool) {
	switch s {
	case "in":
		return AccessIn, true
	case "inout":
		return AccessInOut, true
	case "out":
		return AccessOut, true
	default:
		return 0, false
	}
}
