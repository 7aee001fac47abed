package workflows

import "fmt"

const (
	PhasePlan     = "plan"
	PhaseResearch = "research"
	PhaseCompile  = "compile"
)

// StepID names one checkpointable unit of a run. Indexed phases render as
// "research/02" so checkpoint lookups stay unambiguous as the section count
// varies between runs.
type StepID struct {
	Phase string
	Index int
}

func PlanStep() StepID              { return StepID{Phase: PhasePlan, Index: -1} }
func ResearchStep(index int) StepID { return StepID{Phase: PhaseResearch, Index: index} }
func CompileStep() StepID           { return StepID{Phase: PhaseCompile, Index: -1} }

func (s StepID) String() string {
	if s.Index < 0 {
		return s.Phase
	}
	return fmt.Sprintf("%s/%02d", s.Phase, s.Index)
}
