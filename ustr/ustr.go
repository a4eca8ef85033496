// Package ustr provides an immutable path/string type used throughout
// the kernel, adapted from the teacher's ustr package.
package ustr

import "strings"

// Ustr represents a path or name handled by the kernel.
type Ustr []uint8

// MkUstr returns an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrRoot returns a Ustr for the root directory "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// MkUstrDot returns a Ustr for ".".
func MkUstrDot() Ustr { return Ustr(".") }

// DotDot is a reusable Ustr for "..".
var DotDot = Ustr{'.', '.'}

// Isdot reports whether us equals ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether us equals "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq reports whether us and s contain identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// Extend appends '/' followed by p and returns the new path.
func (us Ustr) Extend(p Ustr) Ustr {
	r := make(Ustr, 0, len(us)+1+len(p))
	r = append(r, us...)
	r = append(r, '/')
	r = append(r, p...)
	return r
}

// ExtendStr is Extend for a Go string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}

// MkUstrSlice truncates buf at the first NUL byte.
func MkUstrSlice(buf []uint8) Ustr {
	for i := range buf {
		if buf[i] == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Components splits an absolute or relative path into its non-empty,
// non-"." components, e.g. "/a//b/./c" -> ["a", "b", "c"].
func (us Ustr) Components() []string {
	parts := strings.Split(us.String(), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		out = append(out, p)
	}
	return out
}
