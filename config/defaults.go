package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 6380
	}
	if cfg.Server.VectorWorkers == 0 {
		cfg.Server.VectorWorkers = 4
	}
	if cfg.Server.QueueCapacity == 0 {
		cfg.Server.QueueCapacity = 1024
	}
	if cfg.Server.MaxPayload == 0 {
		cfg.Server.MaxPayload = 16 << 20
	}
	if cfg.Store.MaxValueSize == 0 {
		cfg.Store.MaxValueSize = 512 << 20
	}
	if cfg.Store.ReapIntervalMS == 0 {
		cfg.Store.ReapIntervalMS = 100
	}
	if cfg.Store.ReapSampleSize == 0 {
		cfg.Store.ReapSampleSize = 20
	}
	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = 1536
	}
}
