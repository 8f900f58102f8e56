package model

import (
	"math"
	"time"
)

// Contract is an agreement between one client and one freelancer. It owns
// its milestones.
type Contract struct {
	ID           string         `json:"id" bson:"_id"`
	ClientID     string         `json:"clientId" bson:"clientId"`
	FreelancerID string         `json:"freelancerId" bson:"freelancerId"`
	ProposalID   string         `json:"proposalId,omitempty" bson:"proposalId,omitempty"`
	Title        string         `json:"title" bson:"title"`
	Terms        Terms          `json:"terms" bson:"terms"`
	Status       ContractStatus `json:"status" bson:"status"`
	// Progress is a derived display value, recomputed on milestone transitions.
	Progress     float64      `json:"progress" bson:"progress"`
	Milestones   []Milestone  `json:"milestones" bson:"milestones"`
	TimeTracking TimeTracking `json:"timeTracking" bson:"timeTracking"`
	Dispute      *Dispute     `json:"dispute,omitempty" bson:"dispute,omitempty"`
	CreatedAt    time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt" bson:"updatedAt"`
	Version      int64        `json:"version" bson:"version"`
}

type Terms struct {
	Amount    float64    `json:"amount" bson:"amount"`
	Currency  string     `json:"currency" bson:"currency"`
	StartDate time.Time  `json:"startDate" bson:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty" bson:"endDate,omitempty"`
}

type TimeTracking struct {
	TotalHours    float64 `json:"totalHours" bson:"totalHours"`
	ThisWeekHours float64 `json:"thisWeekHours" bson:"thisWeekHours"`
	EntryCount    int     `json:"entryCount" bson:"entryCount"`
}

// Dispute is the open dispute on a contract. PriorStatus is restored on
// resolution unless the outcome completes the contract.
type Dispute struct {
	Reason      string         `json:"reason" bson:"reason"`
	OpenedBy    string         `json:"openedBy" bson:"openedBy"`
	PaymentID   string         `json:"paymentId,omitempty" bson:"paymentId,omitempty"`
	PriorStatus ContractStatus `json:"priorStatus" bson:"priorStatus"`
	OpenedAt    time.Time      `json:"openedAt" bson:"openedAt"`
}

// Milestone is a separately payable unit of work inside a Contract.
type Milestone struct {
	ID          string          `json:"id" bson:"id"`
	Title       string          `json:"title" bson:"title"`
	Description string          `json:"description,omitempty" bson:"description,omitempty"`
	Amount      float64         `json:"amount" bson:"amount"`
	DueDate     *time.Time      `json:"dueDate,omitempty" bson:"dueDate,omitempty"`
	Status      MilestoneStatus `json:"status" bson:"status"`
	Submission  *Submission     `json:"submission,omitempty" bson:"submission,omitempty"`
	FundedAt    *time.Time      `json:"fundedAt,omitempty" bson:"fundedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	CancelledAt *time.Time      `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
}

type Submission struct {
	Description string           `json:"description" bson:"description"`
	Links       []string         `json:"links,omitempty" bson:"links,omitempty"`
	Files       []SubmissionFile `json:"files,omitempty" bson:"files,omitempty"`
	SubmittedAt time.Time        `json:"submittedAt" bson:"submittedAt"`
}

type SubmissionFile struct {
	Name string `json:"name" bson:"name"`
	URL  string `json:"url" bson:"url"`
	Size int64  `json:"size,omitempty" bson:"size,omitempty"`
}

// Milestone returns a pointer into c.Milestones, or nil.
func (c *Contract) Milestone(id string) *Milestone {
	for i := range c.Milestones {
		if c.Milestones[i].ID == id {
			return &c.Milestones[i]
		}
	}
	return nil
}

// IsParty reports whether userID is the client or the freelancer.
func (c *Contract) IsParty(userID string) bool {
	return userID != "" && (userID == c.ClientID || userID == c.FreelancerID)
}

// RecomputeProgress sets Progress to completed amount over total amount as a
// percentage, clamped to [0,100] and rounded to 2 decimals.
func (c *Contract) RecomputeProgress() {
	var total, done float64
	for _, m := range c.Milestones {
		total += m.Amount
		if m.Status == MilestoneCompleted {
			done += m.Amount
		}
	}
	if total <= 0 {
		c.Progress = 0
		return
	}
	p := math.Round(done/total*100*100) / 100
	c.Progress = math.Max(0, math.Min(100, p))
}

// AllMilestonesSettled reports whether no milestone is still open and at
// least one was completed.
func (c *Contract) AllMilestonesSettled() bool {
	completed := 0
	for _, m := range c.Milestones {
		switch m.Status {
		case MilestoneCompleted:
			completed++
		case MilestoneCancelled:
		default:
			return false
		}
	}
	return completed > 0
}

// Clone returns a copy that shares no mutable state with c.
func (c *Contract) Clone() *Contract {
	out := *c
	out.Milestones = make([]Milestone, len(c.Milestones))
	for i, m := range c.Milestones {
		if m.Submission != nil {
			s := *m.Submission
			s.Links = append([]string(nil), s.Links...)
			s.Files = append([]SubmissionFile(nil), s.Files...)
			m.Submission = &s
		}
		out.Milestones[i] = m
	}
	if c.Dispute != nil {
		d := *c.Dispute
		out.Dispute = &d
	}
	return &out
}
