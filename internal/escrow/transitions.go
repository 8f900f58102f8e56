package escrow

import "escrowhub/internal/model"

// PaymentAction is an input to the payment state graph.
type PaymentAction string

const (
	PaymentFund    PaymentAction = "fund"    // provider confirmed funds
	PaymentFail    PaymentAction = "fail"    // provider reported failure
	PaymentRelease PaymentAction = "release" // client approved the work
	PaymentSettle  PaymentAction = "settle"  // payout settled to the freelancer
	PaymentRefund  PaymentAction = "refund"  // cancellation or dispute outcome
)

// paymentTransitions is current status x action -> next status. Anything
// absent is an invalid transition.
var paymentTransitions = map[model.PaymentStatus]map[PaymentAction]model.PaymentStatus{
	model.PaymentPending: {
		PaymentFund:   model.PaymentEscrowed,
		PaymentFail:   model.PaymentFailed,
		PaymentRefund: model.PaymentRefunded,
	},
	model.PaymentEscrowed: {
		PaymentRelease: model.PaymentReleased,
		PaymentRefund:  model.PaymentRefunded,
	},
	model.PaymentReleased: {
		PaymentSettle: model.PaymentCompleted,
		PaymentRefund: model.PaymentRefunded,
	},
}

// MilestoneAction is an input to the milestone state graph.
type MilestoneAction string

const (
	MilestoneFund    MilestoneAction = "fund"
	MilestoneSubmit  MilestoneAction = "submit"
	MilestoneApprove MilestoneAction = "approve"
	MilestoneCancel  MilestoneAction = "cancel"
	// Dispute outcomes may settle a milestone from any open state.
	MilestoneAward MilestoneAction = "award"
	MilestoneVoid  MilestoneAction = "void"
)

var milestoneTransitions = map[model.MilestoneStatus]map[MilestoneAction]model.MilestoneStatus{
	model.MilestonePending: {
		MilestoneFund:   model.MilestoneActive,
		MilestoneCancel: model.MilestoneCancelled,
		MilestoneVoid:   model.MilestoneCancelled,
	},
	model.MilestoneActive: {
		MilestoneSubmit: model.MilestoneInReview,
		MilestoneCancel: model.MilestoneCancelled,
		MilestoneAward:  model.MilestoneCompleted,
		MilestoneVoid:   model.MilestoneCancelled,
	},
	model.MilestoneInReview: {
		MilestoneApprove: model.MilestoneCompleted,
		MilestoneAward:   model.MilestoneCompleted,
		MilestoneVoid:    model.MilestoneCancelled,
	},
}

// contractTransitions lists the allowed next statuses.
var contractTransitions = map[model.ContractStatus][]model.ContractStatus{
	model.ContractPendingAcceptance: {model.ContractActive, model.ContractCancelled, model.ContractDispute},
	model.ContractActive:            {model.ContractPaused, model.ContractCompleted, model.ContractCancelled, model.ContractRevisionRequested, model.ContractDispute},
	model.ContractPaused:            {model.ContractActive, model.ContractCancelled, model.ContractDispute},
	model.ContractRevisionRequested: {model.ContractActive, model.ContractCancelled, model.ContractDispute},
	model.ContractDispute: {
		model.ContractActive, model.ContractPaused, model.ContractRevisionRequested,
		model.ContractPendingAcceptance, model.ContractCompleted, model.ContractCancelled,
	},
}

// NextPaymentStatus consults the payment table.
func NextPaymentStatus(from model.PaymentStatus, action PaymentAction) (model.PaymentStatus, bool) {
	to, ok := paymentTransitions[from][action]
	return to, ok
}

func NextMilestoneStatus(from model.MilestoneStatus, action MilestoneAction) (model.MilestoneStatus, bool) {
	to, ok := milestoneTransitions[from][action]
	return to, ok
}

func CanTransitionContract(from, to model.ContractStatus) bool {
	for _, s := range contractTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionPayment applies action to p or returns an InvalidTransitionError.
func transitionPayment(p *model.Payment, action PaymentAction) (model.PaymentStatus, error) {
	from := p.Status
	to, ok := NextPaymentStatus(from, action)
	if !ok {
		return from, &InvalidTransitionError{Entity: "payment", ID: p.ID, From: string(from), Action: string(action)}
	}
	p.Status = to
	return from, nil
}

func transitionMilestone(m *model.Milestone, action MilestoneAction) (model.MilestoneStatus, error) {
	from := m.Status
	to, ok := NextMilestoneStatus(from, action)
	if !ok {
		return from, &InvalidTransitionError{Entity: "milestone", ID: m.ID, From: string(from), Action: string(action)}
	}
	m.Status = to
	return from, nil
}

func transitionContract(c *model.Contract, to model.ContractStatus) (model.ContractStatus, error) {
	from := c.Status
	if !CanTransitionContract(from, to) {
		return from, &InvalidTransitionError{Entity: "contract", ID: c.ID, From: string(from), Action: "move to " + string(to)}
	}
	c.Status = to
	return from, nil
}
