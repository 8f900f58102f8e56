package model

// ContractStatus is the lifecycle state of a Contract.
type ContractStatus string

const (
	ContractPendingAcceptance ContractStatus = "pending_acceptance"
	ContractActive            ContractStatus = "active"
	ContractPaused            ContractStatus = "paused"
	ContractCompleted         ContractStatus = "completed"
	ContractCancelled         ContractStatus = "cancelled"
	ContractRevisionRequested ContractStatus = "revision_requested"
	ContractDispute           ContractStatus = "dispute"
)

func (s ContractStatus) Valid() bool {
	switch s {
	case ContractPendingAcceptance, ContractActive, ContractPaused, ContractCompleted,
		ContractCancelled, ContractRevisionRequested, ContractDispute:
		return true
	}
	return false
}

func (s ContractStatus) Terminal() bool {
	return s == ContractCompleted || s == ContractCancelled
}

// MilestoneStatus is the lifecycle state of a Milestone.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneActive    MilestoneStatus = "active"
	MilestoneInReview  MilestoneStatus = "in_review"
	MilestoneCompleted MilestoneStatus = "completed"
	MilestoneCancelled MilestoneStatus = "cancelled"
)

func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestonePending, MilestoneActive, MilestoneInReview, MilestoneCompleted, MilestoneCancelled:
		return true
	}
	return false
}

func (s MilestoneStatus) Terminal() bool {
	return s == MilestoneCompleted || s == MilestoneCancelled
}

// PaymentStatus is the lifecycle state of a Payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentEscrowed  PaymentStatus = "escrowed"
	PaymentReleased  PaymentStatus = "released"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentEscrowed, PaymentReleased, PaymentCompleted, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentCompleted || s == PaymentRefunded
}

// HoldsFunding reports whether the payment occupies its milestone's single
// funding slot. At most one payment per milestone may be in such a state.
func (s PaymentStatus) HoldsFunding() bool {
	return s == PaymentPending || s == PaymentEscrowed
}
