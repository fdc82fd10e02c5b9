// Package encode turns raw grid observations into the fixed-length feature
// vectors the value networks consume. It is pure: no state, fresh slices on
// every call.
package encode

import (
	"github.com/gridroute/gridroute/grid"
)

// StateDim is the feature vector length per agent:
// 4 normalized coordinates + 3x3 occupancy window + 1 normalized distance.
const StateDim = 14

// States encodes one feature vector per agent.
//
// Layout per agent:
//   - [0:4]  own row, own col, destination row, destination col, each
//     normalized by (dimension-1)
//   - [4:13] the 3x3 occupancy window centered on the agent, row-major;
//     a cell is occupied when it holds an obstacle or any agent's current
//     position; off-grid cells contribute 0
//   - [13]   Manhattan distance to the destination normalized by
//     (rows-1)+(cols-1)
func States(obs []grid.Observation, obstacles []grid.Point, rows, cols int32) [][]float32 {
	occupied := make(map[grid.Point]bool, len(obstacles)+len(obs))
	for _, p := range obstacles {
		occupied[p] = true
	}
	for _, o := range obs {
		occupied[o.Position] = true
	}

	rowNorm := float32(1)
	if rows > 1 {
		rowNorm = float32(rows - 1)
	}
	colNorm := float32(1)
	if cols > 1 {
		colNorm = float32(cols - 1)
	}
	distNorm := float32((rows - 1) + (cols - 1))
	if distNorm == 0 {
		distNorm = 1
	}

	states := make([][]float32, len(obs))
	for i, o := range obs {
		s := make([]float32, 0, StateDim)
		s = append(s,
			float32(o.Position.Row)/rowNorm,
			float32(o.Position.Col)/colNorm,
			float32(o.Destination.Row)/rowNorm,
			float32(o.Destination.Col)/colNorm,
		)

		for dr := int32(-1); dr <= 1; dr++ {
			for dc := int32(-1); dc <= 1; dc++ {
				p := grid.Point{Row: o.Position.Row + dr, Col: o.Position.Col + dc}
				v := float32(0)
				if p.Row >= 0 && p.Row < rows && p.Col >= 0 && p.Col < cols && occupied[p] {
					v = 1
				}
				s = append(s, v)
			}
		}

		dist := grid.Manhattan(o.Position, o.Destination)
		s = append(s, float32(dist)/distNorm)

		states[i] = s
	}
	return states
}
