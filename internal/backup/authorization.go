package backup

// OperationAggregate is the capability type covering aggregate writes.
const OperationAggregate = "AGGREGATE"

// SecurityKey is the fixed aggregate key of the authorization registry
// within the primary identity's namespace.
const SecurityKey = "security"

// Authorization is one capability grant in the registry: a delegated
// identity, the operation types it may perform, and the resource keys it
// may touch. The JSON field names are the registry's wire format.
type Authorization struct {
	Address       string   `json:"address"`
	Types         []string `json:"types"`
	AggregateKeys []string `json:"aggregate_keys"`
}

// SecuritySettings is the authorization registry stored under SecurityKey.
type SecuritySettings struct {
	Authorizations []Authorization `json:"authorizations"`
}

// Permits reports whether the registry grants opType on aggregateKey to
// the delegate at address.
func (s *SecuritySettings) Permits(address, opType, aggregateKey string) bool {
	for _, a := range s.Authorizations {
		if a.Address != address {
			continue
		}
		if contains(a.Types, opType) && contains(a.AggregateKeys, aggregateKey) {
			return true
		}
	}
	return false
}

// Grant appends a capability entry for the delegate. Existing entries are
// never rewritten; the registry only grows.
func (s *SecuritySettings) Grant(address, opType, aggregateKey string) {
	s.Authorizations = append(s.Authorizations, Authorization{
		Address:       address,
		Types:         []string{opType},
		AggregateKeys: []string{aggregateKey},
	})
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
