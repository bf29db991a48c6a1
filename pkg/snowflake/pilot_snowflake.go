// Package snowflake mints the int64 ids used for message and verdict rows:
// 41 bits of milliseconds since the service epoch, 10 bits of node id, 12
// bits of per-millisecond sequence. Ids sort chronologically, which keeps
// created_at index order and id order aligned.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

// Service epoch: 2025-01-01 00:00:00 UTC. Gives the 41-bit timestamp
// headroom until ~2094.
const epoch int64 = 1735689600000

const (
	nodeIDBits   = 10
	sequenceBits = 12

	maxNodeID   = (1 << nodeIDBits) - 1 // 1023
	maxSequence = (1 << sequenceBits) - 1

	timestampShift = nodeIDBits + sequenceBits
	nodeIDShift    = sequenceBits
)

var (
	ErrInvalidNodeID  = errors.New("node ID must be between 0 and 1023")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Generator mints ids for one node. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
}

// NewGenerator creates a generator for the given node id (0-1023). Each
// running process must use a distinct node id or ids can collide.
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Generator{nodeID: nodeID}, nil
}

// Generate returns the next id. Within one millisecond the sequence
// increments; on overflow it spins until the clock advances.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastTime {
				time.Sleep(100 * time.Microsecond)
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	return ((now - epoch) << timestampShift) |
		(g.nodeID << nodeIDShift) |
		g.sequence, nil
}

var (
	globalGen  *Generator
	globalOnce sync.Once
	globalErr  error
)

// Init sets up the process-wide generator. Called once at startup with
// SNOWFLAKE_WORKER_ID before any ID call.
func Init(nodeID int64) error {
	globalOnce.Do(func() {
		globalGen, globalErr = NewGenerator(nodeID)
	})
	return globalErr
}

// ID mints one id from the process-wide generator.
func ID() int64 {
	if globalGen == nil {
		panic("snowflake: Init not called")
	}
	id, err := globalGen.Generate()
	if err != nil {
		panic(err)
	}
	return id
}
