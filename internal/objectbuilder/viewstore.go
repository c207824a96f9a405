// Package objectbuilder wires the materialization pipeline — view plan
// builder, object buffer, row builder — into the Object Builder core's
// hosted Materializer RPC. spec.md §1 describes the Object Builder as
// acting "given a view definition"; since no view-registry RPC exists
// under # 6 EXTERNAL INTERFACES, a process runs against a local catalogue
// of view definitions loaded once at startup, keyed by view ID, the way
// the teacher's cmd/api loads its static route/prompt configuration.
package objectbuilder

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// ViewStore resolves a view ID to its definition.
type ViewStore interface {
	Get(viewID uuid.UUID) (cdl.ViewDefinition, bool)
}

// StaticViewStore is a ViewStore loaded once from a JSON file.
type StaticViewStore struct {
	views map[uuid.UUID]cdl.ViewDefinition
}

// LoadViewStore reads a JSON array of cdl.ViewDefinition from path and
// indexes it by ID.
func LoadViewStore(path string) (*StaticViewStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("objectbuilder: read view catalogue %s: %w", path, err)
	}

	var views []cdl.ViewDefinition
	if err := json.Unmarshal(data, &views); err != nil {
		return nil, fmt.Errorf("objectbuilder: decode view catalogue %s: %w", path, err)
	}

	store := &StaticViewStore{views: make(map[uuid.UUID]cdl.ViewDefinition, len(views))}
	for _, v := range views {
		if v.ID == uuid.Nil {
			return nil, fmt.Errorf("objectbuilder: view catalogue entry missing id")
		}
		store.views[v.ID] = v
	}
	return store, nil
}

// Get returns the view definition for viewID, if the catalogue carries one.
func (s *StaticViewStore) Get(viewID uuid.UUID) (cdl.ViewDefinition, bool) {
	v, ok := s.views[viewID]
	return v, ok
}
