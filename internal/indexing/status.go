package indexing

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// PhaseState enumerates the lifecycle of a whole-session phase.
type PhaseState string

const (
	PhaseStatePending   PhaseState = "pending"
	PhaseStateRunning   PhaseState = "running"
	PhaseStateCompleted PhaseState = "completed"
	PhaseStateFailed    PhaseState = "failed"
	PhaseStateSkipped   PhaseState = "skipped"
)

// Terminal reports whether the state can no longer change for the
// current run.
func (s PhaseState) Terminal() bool {
	return s == PhaseStateCompleted || s == PhaseStateFailed || s == PhaseStateSkipped
}

/*
PhaseStatus is the status record for the whole-session phases
(cross-linking, cleanup, metadata). Payload is only present on
completed records, Error only on failed ones. The same shape is held
in memory while a batch runs and persisted to the batch row at
terminal transitions.
*/
type PhaseStatus struct {
	State   PhaseState     `json:"state"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func phasePending() PhaseStatus { return PhaseStatus{State: PhaseStatePending} }
func phaseRunning() PhaseStatus { return PhaseStatus{State: PhaseStateRunning} }
func phaseSkipped() PhaseStatus { return PhaseStatus{State: PhaseStateSkipped} }

func phaseCompleted(payload map[string]any) PhaseStatus {
	return PhaseStatus{State: PhaseStateCompleted, Payload: payload}
}

func phaseFailed(err error) PhaseStatus {
	st := PhaseStatus{State: PhaseStateFailed}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// encodePhaseStatus renders a status for the jsonb phase columns.
func encodePhaseStatus(st PhaseStatus) datatypes.JSON {
	raw, err := json.Marshal(st)
	if err != nil {
		raw = []byte(`{"state":"` + string(st.State) + `"}`)
	}
	return datatypes.JSON(raw)
}

// decodePhaseStatus parses a persisted phase blob. The second return
// is false when the column is empty or does not carry a state.
func decodePhaseStatus(raw datatypes.JSON) (PhaseStatus, bool) {
	if len(raw) == 0 {
		return PhaseStatus{}, false
	}
	var st PhaseStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return PhaseStatus{}, false
	}
	if st.State == "" {
		return PhaseStatus{}, false
	}
	return st, true
}
