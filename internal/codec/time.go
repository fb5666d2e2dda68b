package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatRelTime renders a millisecond duration as HH:MM:SS for the Seek REL_TIME target.
// Hours are never clamped; minutes and seconds are zero-padded. A fractional part is
// appended only when the value isn't whole seconds, so it survives a ParseRelTime round
// trip without changing the common whole-second Seek target.
func FormatRelTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	if frac := ms % 1000; frac != 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, frac)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// ParseRelTime parses a GetPositionInfo-style H:MM:SS[.frac] time value into
// milliseconds. The UPnP sentinel "NOT_IMPLEMENTED" and the empty string both map to 0;
// neither is a parse error.
func ParseRelTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NOT_IMPLEMENTED" {
		return 0, nil
	}

	whole := s
	var fracMillis int64
	if dot := strings.IndexByte(s, '.'); dot != -1 {
		whole = s[:dot]
		frac := s[dot+1:]
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, &ParseError{Context: "RelTime fraction", Err: err}
		}
		fracMillis = f
	}

	parts := strings.Split(whole, ":")
	if len(parts) != 3 {
		return 0, &ParseError{Context: "RelTime", Err: fmt.Errorf("expected H:MM:SS, got %q", s)}
	}
	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, &ParseError{Context: "RelTime hours", Err: err}
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, &ParseError{Context: "RelTime minutes", Err: err}
	}
	seconds, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, &ParseError{Context: "RelTime seconds", Err: err}
	}

	total := (hours*3600+minutes*60+seconds)*1000 + fracMillis
	return total, nil
}

// ParseVolume parses a GetVolume CurrentVolume argument (an integer 0..=100).
func ParseVolume(s string) (int, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ParseError{Context: "CurrentVolume", Err: err}
	}
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return v, nil
}

// ParseMute parses a GetMute CurrentMute argument, accepting 0|1|true|false.
func ParseMute(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return true, nil
	case "0", "false", "":
		return false, nil
	default:
		return false, &ParseError{Context: "CurrentMute", Err: fmt.Errorf("unrecognized value %q", s)}
	}
}

// ClampVolume clamps v into the 0..=100 range SetVolume requires on the wire.
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
