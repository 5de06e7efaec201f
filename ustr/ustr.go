package ustr

/// Ustr represents an immutable path or string used by the kernel.
type Ustr []uint8

/// Isdot reports whether the string equals '.'.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

/// Isdotdot reports whether the string equals '..'.
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

/// String returns the contents as a Go string.
func (us Ustr) String() string {
	return string(us)
}

/// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

/// MkUstrRoot returns a Ustr for the root directory '/'.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

/// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	if len(us) == 0 {
		return false
	}
	return us[0] == '/'
}
