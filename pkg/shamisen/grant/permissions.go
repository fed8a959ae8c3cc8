package grant

import (
	"fmt"
	"strings"
)

// Permissions is the set of operations a grant allows on its containers.
type Permissions uint8

const (
	Read Permissions = 1 << iota
	Add
	Create
	Write
	Delete
	List
)

// permissionOrder is the canonical order used when encoding a permission set.
var permissionOrder = []struct {
	flag Permissions
	code byte
}{
	{Read, 'r'},
	{Add, 'a'},
	{Create, 'c'},
	{Write, 'w'},
	{Delete, 'd'},
	{List, 'l'},
}

// ParsePermissions parses a permission string such as "racwdl" or "rl".
// Letters may appear in any order; unknown letters are rejected.
func ParsePermissions(s string) (Permissions, error) {
	var p Permissions
	for i := 0; i < len(s); i++ {
		found := false
		for _, po := range permissionOrder {
			if s[i] == po.code {
				p |= po.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown permission %q", ErrMalformedGrant, s[i])
		}
	}
	return p, nil
}

// String returns the canonical form, e.g. "racwdl".
func (p Permissions) String() string {
	var b strings.Builder
	for _, po := range permissionOrder {
		if p&po.flag != 0 {
			b.WriteByte(po.code)
		}
	}
	return b.String()
}

// Has reports whether every permission in required is present in p.
func (p Permissions) Has(required Permissions) bool {
	return p&required == required
}
