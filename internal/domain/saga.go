package domain

import (
	"time"
)

// Saga step status constants.
const (
	SagaStepPending     = "pending"
	SagaStepCompleted   = "completed"
	SagaStepFailed      = "failed"
	SagaStepCompensated = "compensated"
)

// SagaStep tracks one step of the checkout transaction.
type SagaStep struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at,omitempty"`
}

// Saga step names.
const (
	SagaStepValidatePolicy   = "validate_policy"
	SagaStepReserveInventory = "reserve_inventory"
	SagaStepChargePayment    = "charge_payment"
	SagaStepDispatchSupply   = "dispatch_supply"
	SagaStepCommitInventory  = "commit_inventory"
)

// BeginStep appends a pending step and returns a pointer to it. The pointer
// is valid until the next BeginStep.
func (t *Transaction) BeginStep(name string) *SagaStep {
	t.Steps = append(t.Steps, SagaStep{Name: name, Status: SagaStepPending})
	return &t.Steps[len(t.Steps)-1]
}

// Step returns the most recent step with the given name, or nil.
func (t *Transaction) Step(name string) *SagaStep {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].Name == name {
			return &t.Steps[i]
		}
	}
	return nil
}

// Complete marks the step as successfully completed.
func (s *SagaStep) Complete() {
	s.Status = SagaStepCompleted
	s.ExecutedAt = time.Now().UTC()
}

// Fail marks the step as failed with the given error message.
func (s *SagaStep) Fail(err string) {
	s.Status = SagaStepFailed
	s.Error = err
	s.ExecutedAt = time.Now().UTC()
}

// Compensate marks the step as rolled back.
func (s *SagaStep) Compensate() {
	s.Status = SagaStepCompensated
	s.ExecutedAt = time.Now().UTC()
}
