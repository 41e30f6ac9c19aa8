package model

import "strings"

// ModelPath records the stages actually executed for a document.
type ModelPath struct {
	stages []string
}

// Add returns a copy of the path with stage appended. Empty stages are ignored.
func (p ModelPath) Add(stage string) ModelPath {
	if stage == "" {
		return p
	}
	next := make([]string, len(p.stages), len(p.stages)+1)
	copy(next, p.stages)
	return ModelPath{stages: append(next, stage)}
}

// Stages returns a copy of the recorded stages.
func (p ModelPath) Stages() []string {
	return append([]string(nil), p.stages...)
}

func (p ModelPath) String() string {
	return strings.Join(p.stages, " → ")
}
