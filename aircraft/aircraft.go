// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

// Package aircraft holds the aircraft and weather payloads and the client
// for the upstream aircraft feed.
package aircraft

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// Record is a snapshot of one tracked aircraft at fetch time.
// Unknown fields in the wire form are ignored when decoding.
type Record struct {
	Callsign string  `json:"callsign"`
	Reg      string  `json:"reg"`
	FlightNo string  `json:"flightno"`
	Type     string  `json:"type"`
	Altitude int     `json:"altitude"`
	Heading  int     `json:"heading"`
	Speed    int     `json:"speed"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

func (r Record) String() string {
	return fmt.Sprintf("[Aircraft %s %s %s %s alt=%d hdg=%d spd=%d %.4f,%.4f]",
		r.Callsign, r.Reg, r.FlightNo, r.Type, r.Altitude, r.Heading, r.Speed, r.Lat, r.Lon)
}

// Weather is a weather observation sent by a client.
type Weather struct {
	When        time.Time `json:"when"`
	Observation string    `json:"observation"`
}

func (w Weather) String() string {
	return fmt.Sprintf("[Weather %s %q]", w.When.Format(time.RFC3339), w.Observation)
}

// EncodeRecord returns the wire form of r.
func EncodeRecord(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	return b, errors.WithStack(err)
}

// DecodeRecord parses the wire form of a Record.
func DecodeRecord(b []byte) (r Record, err error) {
	err = errors.Wrap(json.Unmarshal(b, &r), "decode aircraft")
	return
}

// DecodeRecords parses a JSON array of Records.
func DecodeRecords(b []byte) (recs []Record, err error) {
	if err = json.Unmarshal(b, &recs); err != nil {
		return nil, errors.Wrap(err, "decode aircraft list")
	}
	return
}

// EncodeRecords returns recs as a JSON array.
func EncodeRecords(recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.Marshal(recs)
	return b, errors.WithStack(err)
}

// EncodeWeather returns the wire form of w.
func EncodeWeather(w Weather) ([]byte, error) {
	b, err := json.Marshal(w)
	return b, errors.WithStack(err)
}

// DecodeWeather parses the wire form of a Weather observation.
func DecodeWeather(b []byte) (w Weather, err error) {
	err = errors.Wrap(json.Unmarshal(b, &w), "decode weather")
	return
}
