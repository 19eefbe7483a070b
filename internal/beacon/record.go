// Package beacon stores the occupant record that advertises which client is
// currently using the remote desktop.
package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var errCorrupt = errors.New("corrupt occupant record")

// Record is the content of occupant.json.
type Record struct {
	Alias       string    `json:"alias"`
	InstanceID  string    `json:"instanceId"`
	LastSeenUTC time.Time `json:"lastSeenUtc"`
}

// FreshAt reports whether the record is still valid at now for the given TTL.
func (r Record) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastSeenUTC) <= ttl
}

// OwnedBy reports whether instanceID matches the record, ignoring case. An
// empty id never matches.
func (r Record) OwnedBy(instanceID string) bool {
	instanceID = strings.TrimSpace(instanceID)
	return instanceID != "" && strings.EqualFold(strings.TrimSpace(r.InstanceID), instanceID)
}

func encodeRecord(r Record) ([]byte, error) {
	r.LastSeenUTC = r.LastSeenUTC.UTC()
	return json.Marshal(r)
}

// Timestamps written by older clients may lack a zone designator; they are
// interpreted as UTC.
const legacyLayout = "2006-01-02T15:04:05.9999999"

func decodeRecord(data []byte) (Record, error) {
	var raw struct {
		Alias       string `json:"alias"`
		InstanceID  string `json:"instanceId"`
		LastSeenUTC string `json:"lastSeenUtc"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if raw.LastSeenUTC == "" {
		return Record{}, fmt.Errorf("%w: missing lastSeenUtc", errCorrupt)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw.LastSeenUTC)
	if err != nil {
		ts, err = time.ParseInLocation(legacyLayout, raw.LastSeenUTC, time.UTC)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: lastSeenUtc: %v", errCorrupt, err)
	}

	return Record{Alias: raw.Alias, InstanceID: raw.InstanceID, LastSeenUTC: ts.UTC()}, nil
}
