package core

// Config holds the application configuration. It is built once at process
// entry from the environment and passed into each component; nothing reads
// env vars after startup.
type Config struct {
	// Completion service (Ollama-compatible chat completions endpoint).
	OllamaHost  string
	OllamaModel string

	// Load-test executable.
	K6Binary string

	// Transports. An empty MCPListen means the dispatcher serves stdio.
	// An empty HTTPListen disables the operational HTTP surface.
	MCPListen  string
	HTTPListen string

	// Report publishing. The publisher is disabled unless all of repo,
	// app id, and private key path are set.
	GitHubRepo           string
	GitHubAppID          int64
	GitHubInstallationID int64
	GitHubPrivateKeyPath string
}

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3"
	DefaultK6Binary    = "k6"
	DefaultTargetURL   = "http://localhost:8080"
	DefaultOutputDir   = "k6-results"
)
