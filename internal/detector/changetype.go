package detector

// ChangeType classifies a filesystem change by the weight of handling it
// requires. Values are ordered by severity: when several files or modules
// change at once, the highest severity wins.
type ChangeType int

// Change severities, lowest to highest.
const (
	ChangeNone ChangeType = iota
	ChangeConfig
	ChangeRebindable
	ChangeClassFile
)

// String returns the lowercase name of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeConfig:
		return "config"
	case ChangeRebindable:
		return "rebindable"
	case ChangeClassFile:
		return "classfile"
	default:
		return "unknown"
	}
}

// RequiresRestart reports whether the change can only be handled by draining
// and restarting the worker process.
func (c ChangeType) RequiresRestart() bool {
	return c == ChangeClassFile
}

// CanHotSwap reports whether the change can be applied by refreshing module
// metadata in place. Only pure config changes qualify.
func (c ChangeType) CanHotSwap() bool {
	return c == ChangeConfig
}

// CanRebind reports whether the change can be applied by re-including the
// module's controller source and rebinding its container entries.
func (c ChangeType) CanRebind() bool {
	return c == ChangeConfig || c == ChangeRebindable
}

// MaxChange returns the higher severity of a and b.
func MaxChange(a, b ChangeType) ChangeType {
	if b > a {
		return b
	}
	return a
}
