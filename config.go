package upnpcast

import "time"

// Config holds the library's tunables. DefaultConfig returns the defaults; callers
// override individual fields on the returned value.
type Config struct {
	SearchTimeout     time.Duration
	DeviceLiveness    time.Duration
	MaxProcessedLocs  int
	HTTPConnectTimeout time.Duration
	HTTPReadTimeout    time.Duration
	SOAPMaxRetries     int
	SOAPBackoffStep    time.Duration
	MulticastTTL       int
	MulticastPort      int
	MulticastAddress   string
}

// DefaultConfig returns the library defaults.
func DefaultConfig() Config {
	return Config{
		SearchTimeout:      10 * time.Second,
		DeviceLiveness:     5 * time.Minute,
		MaxProcessedLocs:   200,
		HTTPConnectTimeout: 8 * time.Second,
		HTTPReadTimeout:    15 * time.Second,
		SOAPMaxRetries:     3,
		SOAPBackoffStep:    time.Second,
		MulticastTTL:       4,
		MulticastPort:      1900,
		MulticastAddress:   "239.255.255.250",
	}
}
