// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package relay

import (
	"context"

	"github.com/linkdata/raprelay/aircraft"
	"go.uber.org/zap"
)

// WeatherSink records weather observations sent by clients.
type WeatherSink interface {
	Record(ctx context.Context, w aircraft.Weather) error
}

// WeatherSinkFunc adapts a function to a WeatherSink.
type WeatherSinkFunc func(ctx context.Context, w aircraft.Weather) error

// Record calls fn(ctx, w).
func (fn WeatherSinkFunc) Record(ctx context.Context, w aircraft.Weather) error {
	return fn(ctx, w)
}

// LogSink writes observations to a logger.
type LogSink struct {
	Logger *zap.SugaredLogger
}

// Record implements WeatherSink.
func (s LogSink) Record(ctx context.Context, w aircraft.Weather) error {
	s.Logger.Infow("weather observation", "when", w.When, "observation", w.Observation)
	return nil
}
