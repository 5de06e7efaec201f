// Package bpath canonicalizes filesystem paths the way the kernel's path
// walker expects them: absolute, with "." and ".." components resolved
// purely lexically (no filesystem lookups), and no trailing slash except
// for the root itself.
package bpath

import "raspbit/ustr"

/// Canonicalize rewrites an absolute path by resolving "." and ".."
/// components lexically, component by component, the same way the
/// original path_to_absolute walker does: a ".." pops the previous
/// component (or is dropped if there is none, since a path can never
/// escape above "/"), and a "." is dropped.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath: Canonicalize requires an absolute path")
	}
	out := make([]ustr.Ustr, 0, 8)
	start := 1
	for i := 1; i <= len(p); i++ {
		if i < len(p) && p[i] != '/' {
			continue
		}
		comp := p[start:i]
		start = i + 1
		switch {
		case len(comp) == 0:
			// collapse repeated slashes
		case comp.Isdot():
			// drop
		case comp.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, comp)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, c := range out {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	return ret
}

/// Split returns the parent directory and final component of an already
/// canonical path. For "/" it returns ("/", "").
func Split(p ustr.Ustr) (ustr.Ustr, ustr.Ustr) {
	idx := -1
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return ustr.MkUstrRoot(), p[idx+1:]
	}
	return p[:idx], p[idx+1:]
}
