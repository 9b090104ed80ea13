// Package id hands out snowflake identifiers for inbound chat events. Event
// ids double as stream dedupe keys, so they must stay unique across restarts
// and time-ordered for log correlation.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init sets up the process-wide generator. The first call wins; repeated
// calls are no-ops so tests and main can both initialize safely.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns the next identifier. Init must have run first.
func New() int64 {
	return node.Generate().Int64()
}
