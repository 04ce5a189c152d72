package audit

import "time"

// Action es el vocabulario cerrado de eventos del audit log.
type Action string

const (
	ActionEpisodeCreated        Action = "EpisodeCreated"
	ActionEpisodeSubmitted      Action = "EpisodeSubmitted"
	ActionEpisodeApproved       Action = "EpisodeApproved"
	ActionEpisodeRejected       Action = "EpisodeRejected"
	ActionReSuggestionApplied   Action = "ReSuggestionApplied"
	ActionReSuggestionSkipped   Action = "ReSuggestionSkipped_Debounce"
	ActionReSuggestionReverted  Action = "ReSuggestionReverted"
	ActionRevertRequested       Action = "RevertRequested"
	ActionRevertRejected        Action = "RevertRejected"
	ActionClinicianQueryCreated Action = "ClinicianQueryCreated"
)

func (a Action) Valid() bool {
	_, ok := payloadFactories[a]
	return ok
}

const (
	EntityEpisode        = "Episode"
	EntityClinicianQuery = "ClinicianQuery"
)

// Entry es inmutable: una vez escrita no se actualiza ni se borra.
type Entry struct {
	ID        string
	Timestamp time.Time

	PerformedBy string
	Action      Action

	EntityType string
	EntityID   string

	Payload Payload
}

// CodeChange devuelve el snapshot old/new si la entrada lo trae.
func (e Entry) CodeChange() (CodeChange, bool) {
	switch p := e.Payload.(type) {
	case CodeChange:
		return p, true
	case Reverted:
		return p.CodeChange, true
	default:
		return CodeChange{}, false
	}
}

// Revertable indica si la entrada puede usarse como origen de un revert.
func (e Entry) Revertable() bool {
	if e.Action != ActionReSuggestionApplied && e.Action != ActionReSuggestionReverted {
		return false
	}
	_, ok := e.CodeChange()
	return ok
}
