package allowdeployments

import "github.com/gobwas/glob"

// allowList decides whether a requested virtual deployment name is
// permitted for a client. Exact membership (the spec's literal requirement)
// is checked first and is sufficient on its own; entries containing glob
// metacharacters are additionally compiled as patterns, so an operator can
// write "gpt-4*" to allow a family of deployments without enumerating every
// member. Globs are strictly additive — they never narrow what exact
// membership already allows.
type allowList struct {
	exact map[string]struct{}
	globs []glob.Glob
}

func newAllowList(entries []string) (*allowList, error) {
	al := &allowList{exact: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		al.exact[e] = struct{}{}
		if containsGlobMeta(e) {
			g, err := glob.Compile(e)
			if err != nil {
				continue // not a valid pattern; exact match on the literal still applies
			}
			al.globs = append(al.globs, g)
		}
	}
	return al, nil
}

func (al *allowList) allows(deployment string) bool {
	if _, ok := al.exact[deployment]; ok {
		return true
	}
	for _, g := range al.globs {
		if g.Match(deployment) {
			return true
		}
	}
	return false
}

func containsGlobMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '{', '}':
			return true
		}
	}
	return false
}
