package engine

import "time"

import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/ssncore/region"
import "github.com/bnclabs/ssncore/txn"

// Config holds everything New needs to build an Engine: the region
// layout, the validator's tunables, and the engine's own housekeeping
// interval.
type Config struct {
	NumNodes     int
	SegmentBits  uint
	NumSegments  int64
	ColdCapacity int64
	TrimMark     int64

	Txn txn.Config

	// EpochTick is the housekeeper's ticker period: how often it
	// attempts an epoch advance.
	EpochTick time.Duration
}

// Defaultsettings for an Engine, mixing in region's and txn's own
// Defaultsettings the way llrb.Defaultsettings() mixes in its
// nodearena/valarena sub-settings via s.Settings.Mixin.
//
// "engine.epochtickmillis" (int64, default: 10),
//		Housekeeper ticker period, in milliseconds.
func Defaultsettings() s.Settings {
	setts := s.Settings{
		"engine.epochtickmillis": int64(10),
	}
	return setts.Mixin(region.Defaultsettings(), txn.Defaultsettings())
}

// NewConfig build a Config from a settings map produced by
// Defaultsettings, reading it with the same typed accessors
// bogn.Bogn.readsettings uses.
func NewConfig(setts s.Settings) Config {
	return Config{
		NumNodes:     int(setts.Int64("region.numnodes")),
		SegmentBits:  uint(setts.Int64("region.segmentbits")),
		NumSegments:  setts.Int64("region.numsegments"),
		ColdCapacity: setts.Int64("region.coldcapacity"),
		TrimMark:     setts.Int64("region.trimmark"),
		Txn:          txn.NewConfig(setts),
		EpochTick:    time.Duration(setts.Int64("engine.epochtickmillis")) * time.Millisecond,
	}
}
