package instance

import "github.com/kayakoyan/marketplace-backend/pkg/env"

// GetID names this process in logs. WORKER_ID wins, then the platform's
// DYNO name.
func GetID() string {
	if id := env.Get("WORKER_ID", ""); id != "" {
		return id
	}
	return env.Get("DYNO", "local")
}
