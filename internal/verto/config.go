package verto

import "time"

const (
	DTMFInfo   = "info"
	DTMFInband = "inband"
)

type Config struct {
	URL            string
	STUNServers    []string
	UDPPortMin     uint16
	UDPPortMax     uint16
	// EventBuffer sizes the Events channel.
	EventBuffer    int
	RequestTimeout time.Duration
	DTMFMode       string
	UserAgent      string
}

func (c Config) withDefaults() Config {
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.DTMFMode == "" {
		c.DTMFMode = DTMFInfo
	}
	if c.UserAgent == "" {
		c.UserAgent = "softphone-go"
	}
	return c
}
