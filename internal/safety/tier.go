package safety

// Tier is the risk classification assigned to every tool.
// Ordering matters: higher tiers are more dangerous.
type Tier int

const (
	TierRead Tier = iota
	TierWrite
	TierExecute
	TierDestructive
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierRead:
		return "read"
	case TierWrite:
		return "write"
	case TierExecute:
		return "execute"
	case TierDestructive:
		return "destructive"
	default:
		return "unknown"
	}
}

// DefaultTier is assigned to tools that do not declare one, such as tools
// discovered from MCP servers.
const DefaultTier = TierExecute
