package capture

import "time"

// Config controls discovery, connection and polling behaviour.
type Config struct {
	// Ports are the candidate remote-debugging ports, probed in order.
	Ports []int `yaml:"ports"`
	// Host of the debugging endpoints. Default: 127.0.0.1.
	Host string `yaml:"host"`
	// ProductMarker is matched against page titles during discovery.
	ProductMarker string `yaml:"product_marker"`
	// RootSelector identifies the chat subtree inside a context.
	RootSelector string `yaml:"root_selector"`
	// PollInterval is the delay between the end of one cycle and the
	// start of the next. Default: 2s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ProbeTimeout bounds each discovery probe. Default: 2s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// DialTimeout bounds the control-channel handshake. Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// SettleDelay is the wait after enabling context notifications, so
	// pre-existing contexts get announced. Default: 500ms.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

func (c *Config) applyDefaults() {
	if len(c.Ports) == 0 {
		// Electron IDEs open remote debugging in this range; one port
		// per window, allocated upward from the base.
		for p := 9222; p <= 9232; p++ {
			c.Ports = append(c.Ports, p)
		}
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.ProductMarker == "" {
		c.ProductMarker = "Visual Studio Code"
	}
	if c.RootSelector == "" {
		c.RootSelector = ".interactive-session"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
}
