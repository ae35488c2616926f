package config

// DefaultConfig returns the default configuration with the standard agent
// roles bound to a local agent mesh.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Agents: map[string]AgentConfig{
			"scout": {
				Endpoint:    "http://localhost:7401/invoke",
				Description: "Explores the codebase and summarizes findings.",
			},
			"architect": {
				Endpoint:    "http://localhost:7402/invoke",
				Description: "Produces a design plan from scout findings.",
			},
			"developer": {
				Endpoint:    "http://localhost:7403/invoke",
				Description: "Implements the planned changes.",
			},
			"qa": {
				Endpoint:    "http://localhost:7404/invoke",
				Description: "Tests and validates implemented changes.",
			},
			"guardian": {
				Endpoint:    "http://localhost:7405/invoke",
				Description: "Reviews changes for security concerns.",
			},
		},
		Gateway: GatewaySettings{
			TimeoutSeconds: 60,
		},
		Retry: RetrySettings{
			MaxRetries:        3,
			InitialIntervalMS: 100,
			MaxIntervalMS:     10000,
			MaxElapsedSeconds: 120,
			Multiplier:        2.0,
		},
		Breaker: BreakerSettings{
			Threshold:       5,
			CooldownSeconds: 30,
			ProbeRequests:   3,
		},
		ConcurrencyLimit: 8,
		LogLevel:         "info",
	}
}
