package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics counts driver allocations (blocks) and the bytes they hold for a single heap
type Statistics struct {
	BlockCount int
	BlockBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.BlockBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.BlockBytes += other.BlockBytes
}

// DetailedStatistics extends Statistics with the size range of the blocks that were counted
type DetailedStatistics struct {
	Statistics
	BlockSizeMin int
	BlockSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.BlockSizeMin = math.MaxInt
	s.BlockSizeMax = 0
}

func (s *DetailedStatistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size

	if size < s.BlockSizeMin {
		s.BlockSizeMin = size
	}

	if size > s.BlockSizeMax {
		s.BlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)

	if other.BlockSizeMin < s.BlockSizeMin {
		s.BlockSizeMin = other.BlockSizeMin
	}

	if other.BlockSizeMax > s.BlockSizeMax {
		s.BlockSizeMax = other.BlockSizeMax
	}
}

// PrintJSON writes the statistics as an object with the provided writer
func (s *DetailedStatistics) PrintJSON(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("BlockCount").Int(s.BlockCount)
	obj.Name("BlockBytes").Int(s.BlockBytes)
	if s.BlockCount > 0 {
		obj.Name("BlockSizeMin").Int(s.BlockSizeMin)
		obj.Name("BlockSizeMax").Int(s.BlockSizeMax)
	}
}
