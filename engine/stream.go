package engine

import (
	"fmt"

	"docbase/stream"
)

func (e *DocumentEngine) openUpdateSession() (*stream.UpdateSession, error) {
	sess, err := stream.OpenUpdate(e.dataPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open update session: %w", err)
	}
	return sess, nil
}
