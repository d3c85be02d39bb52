package core

import (
	"fmt"
	"strings"
)

// RoutingKey selects the worker for an event. It is distinct from the
// broker-level routing key used to bind the queue.
type RoutingKey struct {
	Realm  string
	Policy string
}

func (k RoutingKey) String() string { return k.Realm + "/" + k.Policy }

// Valid reports whether both components are present.
func (k RoutingKey) Valid() bool { return k.Realm != "" && k.Policy != "" }

// HeaderNames names the delivery headers that carry the routing key.
type HeaderNames struct {
	Realm  string
	Policy string
}

// DefaultHeaderNames returns the "realm" and "policy" header names.
func DefaultHeaderNames() HeaderNames {
	return HeaderNames{Realm: "realm", Policy: "policy"}
}

// ExtractRoutingKey reads the realm and policy headers of d. A missing or
// blank header yields an error wrapping ErrMalformedDelivery.
func ExtractRoutingKey(d Delivery, names HeaderNames) (RoutingKey, error) {
	h := d.HeaderStrings()

	var missing []string
	realm := strings.TrimSpace(h[names.Realm])
	if realm == "" {
		missing = append(missing, names.Realm)
	}
	policy := strings.TrimSpace(h[names.Policy])
	if policy == "" {
		missing = append(missing, names.Policy)
	}
	if len(missing) > 0 {
		return RoutingKey{}, fmt.Errorf("%w: missing header(s) %s", ErrMalformedDelivery, strings.Join(missing, ", "))
	}
	return RoutingKey{Realm: realm, Policy: policy}, nil
}
