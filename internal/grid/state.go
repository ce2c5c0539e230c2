package grid

import "fmt"

// State is a hex grid workflow stage. Stages run strictly in declaration
// order; Error is reachable from Init, WaitTerrain and every load stage.
type State uint8

const (
	StateInit State = iota
	StateWaitTerrain
	StateLoadParams
	StateLoadTileIndices
	StateLoadTiles
	StateLoadNeighbors
	StateCreateTilesVertices
	StateSetTilesPosZ
	StateCalTilesNormal
	StateWalkingBlockLevel
	StateWalkingBlockLevelEx
	StateInitConnectivity
	StateChunkConnectivity
	StateVerifyConnectivity
	StateFindIsland
	StateBuildingBlockLevel
	StateBuildingBlockLevelEx
	StateDrawInstances
	StateDone
	StateError
)

var stateNames = [...]string{
	"Init",
	"WaitTerrain",
	"LoadParams",
	"LoadTileIndices",
	"LoadTiles",
	"LoadNeighbors",
	"CreateTilesVertices",
	"SetTilesPosZ",
	"CalTilesNormal",
	"WalkingBlockLevel",
	"WalkingBlockLevelEx",
	"InitConnectivity",
	"ChunkConnectivity",
	"VerifyConnectivity",
	"FindIsland",
	"BuildingBlockLevel",
	"BuildingBlockLevelEx",
	"DrawInstances",
	"Done",
	"Error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// ParseState returns the state named name.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// Terminal reports whether Step is a no-op in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}
