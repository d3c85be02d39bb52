package core

import "strings"

// KeyMatcher determines whether a handler pattern matches a routing key.
type KeyMatcher interface {
	Match(pattern string, key RoutingKey) bool
}

// DefaultMatcher matches patterns of the form "realm/policy".
//
// The realm is a literal or "*". The policy is split on dots; "*" matches
// exactly one level and "#" matches zero or more. A pattern without a slash
// matches every policy of the realm.
//
//	"acme/p1"          matches ("acme", "p1")
//	"*/p1"             matches ("globex", "p1")
//	"acme/billing.*"   matches ("acme", "billing.late")
//	"acme/billing.*"   does NOT match ("acme", "billing.eu.late")
//	"acme/billing.#"   matches ("acme", "billing.eu.late")
//	"acme"             matches ("acme", anything)
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern string, key RoutingKey) bool {
	realm, policy, ok := strings.Cut(pattern, "/")
	if !ok {
		policy = "#"
	}
	if realm != "*" && realm != key.Realm {
		return false
	}
	return matchLevels(strings.Split(policy, "."), strings.Split(key.Policy, "."))
}

func matchLevels(pat, levels []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(levels); i++ {
				if matchLevels(pat[1:], levels[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(levels) == 0 {
				return false
			}
		default:
			if len(levels) == 0 || pat[0] != levels[0] {
				return false
			}
		}
		pat, levels = pat[1:], levels[1:]
	}
	return len(levels) == 0
}
