// Package timeutil converts between service-reported UTC timestamps and
// local time. All functions are pure.
package timeutil

import "time"

// LayoutUTC is the wire layout used by most of the video services.
const LayoutUTC = "2006-01-02T15:04:05Z"

// UTCStringToLocal parses a zone-less timestamp string as UTC and returns
// it in local time.
func UTCStringToLocal(layout, value string) (time.Time, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Local(), nil
}

// LocalToUTCString formats a local time as a UTC timestamp string.
func LocalToUTCString(layout string, t time.Time) string {
	return t.UTC().Format(layout)
}

// LocalToUTC converts a local time to UTC.
func LocalToUTC(t time.Time) time.Time {
	return t.UTC()
}
