package evidence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/canonicalize"
)

// ExportedChain is the portable, filing-ready form of one stream.
type ExportedChain struct {
	StreamID   string    `json:"stream_id"`
	ExportedAt time.Time `json:"exported_at"`
	Head       string    `json:"head"`
	Events     []*Event  `json:"events"`
	ExportHash string    `json:"export_hash"`
}

// Export serializes a stream's events, in order, as canonical JSON. The
// export carries its own digest so recipients can verify the bundle without
// re-walking the chain.
func (l *Log) Export(streamID string) ([]byte, error) {
	events, err := l.Events(streamID)
	if err != nil {
		return nil, err
	}
	head, err := l.Head(streamID)
	if err != nil {
		return nil, err
	}

	chain := ExportedChain{
		StreamID:   streamID,
		ExportedAt: l.clock.Now(),
		Head:       head,
		Events:     events,
	}

	body, err := canonicalize.JCS(chain.Events)
	if err != nil {
		return nil, fmt.Errorf("evidence: export canonicalization failed: %w", err)
	}
	chain.ExportHash = canonicalize.HashBytes(body)

	return json.Marshal(chain)
}
