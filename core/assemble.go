package core

import (
	"fmt"

	"github.com/signalsfoundry/mosaicfit/kb"
	"github.com/signalsfoundry/mosaicfit/model"
)

// Assemble maps every observation's local pixel position through its
// quadrant's affine model, giving the linearized coordinates shared by all
// quadrants. The result is parallel to obs.
func Assemble(obs []model.Observation, table *kb.AffineTable) ([]model.GlobalCoord, error) {
	if table == nil {
		return nil, fmt.Errorf("assemble: %w", kb.ErrIncompleteTable)
	}
	out := make([]model.GlobalCoord, len(obs))
	for i, o := range obs {
		m, err := table.Get(o.Quadrant)
		if err != nil {
			return nil, fmt.Errorf("assemble observation %d: %w", i, err)
		}
		eta, nu := m.Apply(o.XLocal, o.YLocal)
		out[i] = model.GlobalCoord{EtaLin: eta, NuLin: nu}
	}
	return out, nil
}
