package saga

import (
	"github.com/complianceflow/complianceflow/pkg/events"
	"github.com/complianceflow/complianceflow/pkg/models"
)

type transitionKey struct {
	from  models.ManifestStatus
	event events.EventType
}

// transitionTable lists every valid (state, event) pair. Anything not in
// the table is discarded as a stale or duplicate delivery; creation from
// ManifestSubmitted is handled separately because there is no prior state.
var transitionTable = map[transitionKey]models.ManifestStatus{
	{from: models.ManifestStatusValidating, event: events.ManifestValidEvent}:   models.ManifestStatusValidated,
	{from: models.ManifestStatusValidating, event: events.ManifestInvalidEvent}: models.ManifestStatusRejected,
}

// nextState returns the target state for the given transition, or false
// when the event is not valid for the current state.
func nextState(from models.ManifestStatus, event events.EventType) (models.ManifestStatus, bool) {
	next, ok := transitionTable[transitionKey{from: from, event: event}]

	return next, ok
}
