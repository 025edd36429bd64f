package search

// Observer receives iteration-level events from a search run.
type Observer interface {
	AttemptFinished(step Step)
	SearchFinished(outcome Outcome)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) AttemptFinished(Step)   {}
func (NopObserver) SearchFinished(Outcome) {}

// Observers fans events out to every non-nil observer.
type Observers []Observer

// AttemptFinished forwards step to each observer.
func (o Observers) AttemptFinished(step Step) {
	for _, obs := range o {
		if obs != nil {
			obs.AttemptFinished(step)
		}
	}
}

// SearchFinished forwards outcome to each observer.
func (o Observers) SearchFinished(outcome Outcome) {
	for _, obs := range o {
		if obs != nil {
			obs.SearchFinished(outcome)
		}
	}
}
