package actuation

// RefusalReason says why a spray did not happen.
type RefusalReason string

const (
	RefusalCooldown  RefusalReason = "cooldown"
	RefusalBusy      RefusalReason = "busy"
	RefusalTankEmpty RefusalReason = "tank_empty"
)

// SprayEvent describes one committed spray.
type SprayEvent struct {
	Entry      LogEntry
	LevelMl    float64 // level after the spray
	CapacityMl float64
}

// Observer receives spray outcomes. Callbacks run after the state lock is
// released, on the goroutine that caused the event, and must not block.
type Observer interface {
	OnSpray(ev SprayEvent)
	OnRefusal(reason RefusalReason)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Spray   func(SprayEvent)
	Refusal func(RefusalReason)
}

// OnSpray implements Observer.
func (o ObserverFuncs) OnSpray(ev SprayEvent) {
	if o.Spray != nil {
		o.Spray(ev)
	}
}

// OnRefusal implements Observer.
func (o ObserverFuncs) OnRefusal(reason RefusalReason) {
	if o.Refusal != nil {
		o.Refusal(reason)
	}
}

// effects collects what a critical section produced, for dispatch after unlock.
type effects struct {
	persist  bool
	sprays   []SprayEvent
	refusals []RefusalReason
}

func (fx *effects) spray(ev SprayEvent) {
	fx.sprays = append(fx.sprays, ev)
	fx.persist = true
}

func (fx *effects) refuse(r RefusalReason) {
	fx.refusals = append(fx.refusals, r)
}
