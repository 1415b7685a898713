package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/framecore/internal/utils"
	"github.com/vkngwrapper/framecore/memutils"
)

// blockList is an intrusive list of every live block a classifier has handed out
type blockList struct {
	mutex utils.OptionalRWMutex

	count int
	head  *Block
	tail  *Block
}

func (l *blockList) Init(useMutex bool) {
	l.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
}

func (l *blockList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	declaredCount := l.count
	actualCount := 0

	var prev *Block
	for block := l.head; block != nil; block = block.next {
		if block.prev != prev {
			return errors.Errorf("block %s has a broken back link", block.id)
		}
		if block.freed {
			return errors.Errorf("block %s is freed but still in the live list", block.id)
		}
		prev = block
		actualCount++
	}

	if prev != l.tail {
		return errors.New("the live block list tail does not match the last block")
	}

	if declaredCount != actualCount {
		return errors.Errorf("the listed number of live blocks in the list (%d) does not match the actual number of blocks (%d)", declaredCount, actualCount)
	}

	return nil
}

func (l *blockList) AddDetailedStatistics(heapIndex int, stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for block := l.head; block != nil; block = block.next {
		if block.heapIndex == heapIndex {
			stats.AddBlock(block.size)
		}
	}
}

func (l *blockList) BuildStatsString(writer *jwriter.Writer) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	s := writer.Array()
	defer s.End()

	for block := l.head; block != nil; block = block.next {
		o := s.Object()
		block.printParameters(&o)
		o.End()
	}
}

func (l *blockList) Count() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.count
}

// Each calls fn for every live block, oldest first
func (l *blockList) Each(fn func(block *Block)) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for block := l.head; block != nil; block = block.next {
		fn(block)
	}
}

func (l *blockList) Register(block *Block) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.count == 0 {
		l.head = block
		l.tail = block
		l.count = 1
		return
	}

	block.prev = l.tail
	l.tail.next = block
	l.tail = block
	l.count++
}

func (l *blockList) Unregister(block *Block) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	prev := block.prev
	next := block.next

	if prev != nil {
		prev.next = next
	} else {
		l.head = next
	}

	if next != nil {
		next.prev = prev
	} else {
		l.tail = prev
	}

	block.next = nil
	block.prev = nil

	l.count--
}
