package dispute

// PanelRisk pairs a panel member with its advisory collusion-risk level.
// Advisory means exactly that: the classification is heuristic, informational
// and never consulted by action guards.
type PanelRisk struct {
	Arbiter [20]byte
	Level   RiskLevel
	Known   bool
}

// View is the read-only projection a presentation caller renders: the last
// confirmed snapshot combined with the derived tally, timing window and
// per-viewer eligibility. Computing it mutates nothing.
type View struct {
	Dispute     *Dispute
	Tally       Tally
	Window      Window
	Eligibility Eligibility
	PanelRisk   [PanelSize]PanelRisk
	Stale       bool
}

// GetView projects the dispute for a viewer at the supplied time. Stale is set
// while the record is quarantined: the snapshot may trail the ledger and
// actions are withheld until a resync.
func (e *Engine) GetView(id uint64, viewer [20]byte, now int64) (*View, error) {
	d, err := e.load(id)
	if err != nil {
		return nil, err
	}
	view := &View{
		Dispute: d.Clone(),
		Tally:   TallyBallots(d.Ballots),
		Window:  EvaluateWindow(d, now),
		Stale:   e.Quarantined(id),
	}
	if !view.Stale {
		view.Eligibility = EvaluateEligibility(d, viewer, now)
	}
	for i, member := range d.Panel {
		view.PanelRisk[i] = PanelRisk{Arbiter: member}
		if stats, ok := e.state.ArbiterStatsGet(member); ok {
			view.PanelRisk[i].Level = ClassifyCollusionRisk(stats)
			view.PanelRisk[i].Known = true
		}
	}
	return view, nil
}
