package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Priority is routing metadata carried with every envelope. It does not
// reorder delivery.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
)

var priorityNames = [...]string{"Low", "Medium", "High", "Critical"}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p >= Low && p <= Critical
}

func (p Priority) String() string {
	if !p.Valid() {
		return "Priority(" + strconv.Itoa(int(p)) + ")"
	}
	return priorityNames[p]
}

// ParsePriority accepts a priority name (case-insensitive) or its ordinal.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	return Low, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("priority %d out of range", int(p))
	}
	return json.Marshal(p.String())
}

// Destination names the downstream service a message is meant for. The zero
// value, Unassigned, is used when a producer did not set one.
type Destination int

const (
	Unassigned Destination = iota
	ServiceA
	ServiceB
	ServiceC
	ServiceD
)

// Wire names shared with existing producers.
var destinationNames = [...]string{"", "MicroserviceA", "MicroserviceB", "MicroserviceC", "MicroserviceD"}

// Valid reports whether d is one of the four routable destinations.
func (d Destination) Valid() bool {
	return d >= ServiceA && d <= ServiceD
}

func (d Destination) String() string {
	switch {
	case d == Unassigned:
		return "Unassigned"
	case d.Valid():
		return destinationNames[d]
	default:
		return "Destination(" + strconv.Itoa(int(d)) + ")"
	}
}

// ParseDestination accepts a wire name ("MicroserviceC"), a short name
// ("ServiceC", "C"), or the ordinal used by numeric producers (0 = A .. 3 = D).
func ParseDestination(s string) (Destination, error) {
	s = strings.TrimSpace(s)
	for d := ServiceA; d <= ServiceD; d++ {
		name := destinationNames[d]
		short := strings.TrimPrefix(name, "Micro")
		letter := name[len(name)-1:]
		if strings.EqualFold(s, name) || strings.EqualFold(s, short) || strings.EqualFold(s, letter) {
			return d, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 3 {
		return ServiceA + Destination(n), nil
	}
	return Unassigned, fmt.Errorf("unknown destination %q", s)
}

func (d Destination) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("destination %d is not routable", int(d))
	}
	return json.Marshal(destinationNames[d])
}

// decodeEnum turns a raw JSON enum value (string name or number) into the
// string form accepted by ParsePriority and ParseDestination.
func decodeEnum(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
