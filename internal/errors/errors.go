// internal/errors/errors.go
package apperrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
    CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

type ErrRunNotFound struct {
    RunID int
}

func (e *ErrRunNotFound) Error() string {
    return fmt.Sprintf("send run with ID %d not found", e.RunID)
}

func NewRunNotFound(id int) error {
    return &ErrRunNotFound{RunID: id}
}

type ErrRecipientNotFound struct {
    ItemID int
}

func (e *ErrRecipientNotFound) Error() string {
    return fmt.Sprintf("recipient item with ID %d not found", e.ItemID)
}

func NewRecipientNotFound(id int) error {
    return &ErrRecipientNotFound{ItemID: id}
}

// ErrInvalidTransition signals an operation requested against a campaign
// whose current status does not permit it. No state is mutated.
type ErrInvalidTransition struct {
    Op     string
    Status string
}

func (e *ErrInvalidTransition) Error() string {
    return fmt.Sprintf("cannot %s campaign in status %q", e.Op, e.Status)
}

func NewInvalidTransition(op, status string) error {
    return &ErrInvalidTransition{Op: op, Status: status}
}

// ErrLockHeld means another campaign currently holds the global send lock.
type ErrLockHeld struct{}

func (e *ErrLockHeld) Error() string {
    return "another campaign is currently sending"
}

func NewLockHeld() error {
    return &ErrLockHeld{}
}

type ErrNoPendingRecipients struct {
    CampaignID int
}

func (e *ErrNoPendingRecipients) Error() string {
    return fmt.Sprintf("campaign %d has no pending recipients", e.CampaignID)
}

func NewNoPendingRecipients(id int) error {
    return &ErrNoPendingRecipients{CampaignID: id}
}
