package models

// HealthCheckResponse is returned by the health check endpoint
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}
