package region

import s "github.com/bnclabs/gosettings"
import "github.com/cloudfoundry/gosigar"

// Defaultsettings for a region.Manager and the regions it constructs.
//
// "region.numnodes" (int, default: 1),
//		Number of NUMA regions to construct. One per NUMA node on the
//		target machine; tests and single-node deployments use 1.
//
// "region.segmentbits" (uint, default: 20),
//		log2 of one hot-arena segment's size in bytes. Default 20
//		gives 1MiB segments.
//
// "region.numsegments" (int64, default: 64),
//		Number of segments per region's hot arena (must be a power of
//		two); hot_capacity = numsegments * 2^segmentbits.
//
// "region.coldcapacity" (int64),
//		Bytes reserved for the cold overflow arena, per region.
//		Default sized off free system memory the way
//		llrb.Defaultsettings()/bogn.Defaultsettings() size their
//		arenas.
//
// "region.trimmark" (int64, default: 1/8th of hot_capacity),
//		Bytes allocated since the last epoch advance attempt before
//		the allocator tries to advance the epoch again.
func Defaultsettings() s.Settings {
	_, _, free := getsysmem()
	numsegments := int64(64)
	segmentbits := uint(20)
	hotcapacity := numsegments * (int64(1) << segmentbits)

	coldcapacity := int64(free) / 16
	if coldcapacity <= 0 {
		coldcapacity = hotcapacity
	}

	return s.Settings{
		"region.numnodes":     1,
		"region.segmentbits":  segmentbits,
		"region.numsegments":  numsegments,
		"region.coldcapacity": coldcapacity,
		"region.trimmark":     hotcapacity / 8,
	}
}

func getsysmem() (total, used, free uint64) {
	mem := sigar.Mem{}
	mem.Get()
	return mem.Total, mem.Used, mem.Free
}
