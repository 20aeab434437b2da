package cluster

import "os"

// getenv resolves a hop password from the environment. An empty variable
// name means no password auth for that hop (keys or agent instead).
func getenv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
