package session

import (
	"encoding/json"
	"fmt"

	"idgate.org/internal/identity"
)

func marshalSnapshot(snap *identity.RemoteSnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("session: marshal identity payload: %w", err)
	}
	return data, nil
}

func unmarshalSnapshot(data []byte) (*identity.RemoteSnapshot, error) {
	var snap identity.RemoteSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("session: unmarshal identity payload: %w", err)
	}
	return &snap, nil
}
