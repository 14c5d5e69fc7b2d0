package speechtotext

// Provider identifies a speech recognition backend.
type Provider string

const (
	ProviderDeepgram   Provider = "deepgram"
	ProviderAssemblyAI Provider = "assemblyai"
)

// assemblyAIAgents routes these speaker identities through AssemblyAI.
// Everyone else uses the default provider. The routing is decided once per
// session and never swapped mid-session.
var assemblyAIAgents = map[string]struct{}{
	"runway": {},
	"canvas": {},
}

// ProviderForAgent returns the recognition backend for a speaker identity.
func ProviderForAgent(agent string) Provider {
	if _, ok := assemblyAIAgents[agent]; ok {
		return ProviderAssemblyAI
	}
	return ProviderDeepgram
}
