// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package aircraft

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var feedTypes = []string{"B738", "A320", "E190", "C172", "B77W", "A359", "CRJ9", "PC12"}
var feedAirlines = []string{"SWA", "AAL", "UAL", "DAL", "SKW", "ASA", "JBU"}

// Feed serves a changing set of made up aircraft over HTTP, in the same
// form as the upstream feed.
type Feed struct {
	Logger *zap.Logger
	mu     sync.Mutex
	rnd    *rand.Rand
	fleet  []Record
}

// NewFeed returns a Feed tracking n aircraft, seeded with seed.
func NewFeed(n int, seed int64) *Feed {
	f := &Feed{
		Logger: zap.NewNop(),
		rnd:    rand.New(rand.NewSource(seed)),
	}
	for i := 0; i < n; i++ {
		airline := feedAirlines[f.rnd.Intn(len(feedAirlines))]
		num := 100 + f.rnd.Intn(9000)
		f.fleet = append(f.fleet, Record{
			Callsign: fmt.Sprintf("%s%d", airline, num),
			Reg:      fmt.Sprintf("N%d%c%c", 100+f.rnd.Intn(900), 'A'+rune(f.rnd.Intn(26)), 'A'+rune(f.rnd.Intn(26))),
			FlightNo: fmt.Sprintf("%s%d", airline[:2], num),
			Type:     feedTypes[f.rnd.Intn(len(feedTypes))],
			Altitude: 1000 + f.rnd.Intn(39000),
			Heading:  f.rnd.Intn(360),
			Speed:    120 + f.rnd.Intn(400),
			Lat:      38.7 + f.rnd.Float64(),
			Lon:      -90.9 + f.rnd.Float64(),
		})
	}
	return f
}

// Snapshot moves every aircraft a little and returns the new positions.
func (f *Feed) Snapshot() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, len(f.fleet))
	for i := range f.fleet {
		r := &f.fleet[i]
		r.Heading = (r.Heading + f.rnd.Intn(11) - 5 + 360) % 360
		r.Altitude += (f.rnd.Intn(5) - 2) * 100
		if r.Altitude < 500 {
			r.Altitude = 500
		}
		r.Lat += (f.rnd.Float64() - 0.5) / 100
		r.Lon += (f.rnd.Float64() - 0.5) / 100
		out[i] = *r
	}
	return out
}

// HandleFastHTTP serves the current snapshot as a JSON array on GET.
func (f *Feed) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	b, err := EncodeRecords(f.Snapshot())
	if err != nil {
		f.Logger.Error("encode snapshot", zap.Error(err))
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}
