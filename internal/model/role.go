package model

import "encoding/json"

// Role identifies which side of an engagement a user is on.
type Role int

const (
	RoleProvider Role = iota
	RoleConsumer
)

func (r Role) String() string {
	if r == RoleConsumer {
		return "consumer"
	}
	return "provider"
}

// Other returns the counterparty role.
func (r Role) Other() Role {
	if r == RoleConsumer {
		return RoleProvider
	}
	return RoleConsumer
}

// Pair holds one value per role, indexed by Role.
type Pair[T any] [2]T

func (p Pair[T]) Of(r Role) T {
	return p[r]
}

func (p *Pair[T]) Set(r Role, v T) {
	p[r] = v
}

func (p Pair[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Provider T `json:"provider"`
		Consumer T `json:"consumer"`
	}{p[RoleProvider], p[RoleConsumer]})
}

func (p *Pair[T]) UnmarshalJSON(data []byte) error {
	var v struct {
		Provider T `json:"provider"`
		Consumer T `json:"consumer"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	p[RoleProvider], p[RoleConsumer] = v.Provider, v.Consumer
	return nil
}
