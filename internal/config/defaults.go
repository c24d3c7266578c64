package config

import "time"

// DefaultBatchAPIURL is the default batching API endpoint.
const DefaultBatchAPIURL = "https://api.tidesync.dev/v1/batch"

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.tidesync",
		Batch: BatchConfig{
			Size:            5,
			CycleInterval:   time.Second,
			MaxRetries:      2,
			ClientRPS:       4,
			ClientBurst:     8,
			SubmitPacingRPS: 10,
		},
		Status: StatusConfig{
			PollInterval:   2 * time.Second,
			BaseBackoff:    10 * time.Second,
			ResyncInterval: 15 * time.Minute,
		},
		Push: PushConfig{
			ReconnectCap: 50,
			PingInterval: 30 * time.Second,
			PongWait:     10 * time.Second,
			WriteWait:    5 * time.Second,
		},
		Store: StoreConfig{
			Path:     "~/.tidesync/store",
			InMemory: false,
		},
		Endpoints: EndpointsConfig{
			BatchAPI: DefaultBatchAPIURL,
			Sockets: map[string]string{
				"btc":  "wss://btc.socket.tidesync.dev",
				"ltc":  "wss://ltc.socket.tidesync.dev",
				"doge": "wss://doge.socket.tidesync.dev",
				"dash": "wss://dash.socket.tidesync.dev",
				"eth":  "wss://eth.socket.tidesync.dev",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}
