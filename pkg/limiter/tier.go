package limiter

// Tier is the admission category an outbound platform call is billed
// against. The set is closed: the platform publishes per-category quotas
// and the classifier maps every call onto exactly one of these.
type Tier int

const (
	Default Tier = iota
	Read
	Write
	Admin
)

const numTiers = int(Admin) + 1

// Tiers lists every tier in classification order.
var Tiers = [numTiers]Tier{Default, Read, Write, Admin}

func (t Tier) String() string {
	switch t {
	case Default:
		return "default"
	case Read:
		return "read"
	case Write:
		return "write"
	case Admin:
		return "admin"
	}
	return "unknown"
}

func (t Tier) valid() bool {
	return t >= Default && t <= Admin
}
