package config

import "backroom/internal/dispatch"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Agent: AgentConfig{
			BaseURL:        "http://localhost:3000",
			UserID:         dispatch.DefaultUserID,
			RoomPrefix:     dispatch.DefaultRoomPrefix,
			TimeoutSeconds: 120,
		},
		Render: RenderConfig{
			Color: true,
		},
		Web: WebConfig{
			Addr: "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
