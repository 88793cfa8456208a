package testutil

import "context"

// StaticProbe answers artifact checks from fixed maps. The zero value
// treats every artifact as present and valid.
type StaticProbe struct {
	Missing map[string]bool
	Invalid map[string]error
}

func (p *StaticProbe) Exists(ctx context.Context, artifactID string) bool {
	return !p.Missing[artifactID]
}

func (p *StaticProbe) Validate(ctx context.Context, artifactID string) error {
	return p.Invalid[artifactID]
}
