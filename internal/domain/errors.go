package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/utafrali/marketplace/pkg/errors"
)

// Marketplace error kinds. Every constructor below wraps one of these so
// callers can match with errors.Is regardless of the message.
var (
	ErrNotAuthorized     = errors.New("not authorized")
	ErrAlreadyAppointed  = errors.New("already appointed")
	ErrInvalidPermission = errors.New("invalid permission")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPolicyViolation   = errors.New("policy violation")
	ErrPaymentFailed     = apperrors.ErrPaymentFailed
	ErrSupplyFailed      = errors.New("supply failed")
	ErrStoreClosed       = errors.New("store closed")
	ErrProductReferenced = errors.New("product referenced")
)

// NotAuthorized reports that identity may not perform action in the store.
func NotAuthorized(storeID, identity, action string) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "NOT_AUTHORIZED",
		Message: fmt.Sprintf("user %s is not authorized to %s", identity, action),
		Status:  http.StatusForbidden,
		Err:     ErrNotAuthorized,
	}).WithDetail("store_id", storeID).WithDetail("identity", identity)
}

// AlreadyAppointed reports that identity already holds an appointment in the store.
func AlreadyAppointed(storeID, identity string) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "ALREADY_APPOINTED",
		Message: fmt.Sprintf("user %s is already appointed to store %s", identity, storeID),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyAppointed,
	}).WithDetail("store_id", storeID).WithDetail("identity", identity)
}

// InvalidPermission reports capabilities outside the target role's ceiling.
func InvalidPermission(storeID, identity string, rejected PermissionSet) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "INVALID_PERMISSION",
		Message: fmt.Sprintf("capabilities %s cannot be granted to a manager", rejected),
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidPermission,
	}).WithDetail("store_id", storeID).WithDetail("identity", identity)
}

// InsufficientStock reports that a reservation could not be satisfied.
func InsufficientStock(storeID, productID string, requested, available int) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("requested %d of product %s but only %d available", requested, productID, available),
		Status:  http.StatusConflict,
		Err:     ErrInsufficientStock,
	}).WithDetail("store_id", storeID).
		WithDetail("product_id", productID).
		WithDetail("requested", strconv.Itoa(requested)).
		WithDetail("available", strconv.Itoa(available))
}

// PolicyViolation reports a basket rejected by a store's purchase policy.
func PolicyViolation(storeID, reason string) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "POLICY_VIOLATION",
		Message: reason,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrPolicyViolation,
	}).WithDetail("store_id", storeID)
}

// PaymentFailed reports a declined, failed or timed out charge.
func PaymentFailed(transactionID, reason string) *apperrors.AppError {
	return apperrors.PaymentFailed(reason).WithDetail("transaction_id", transactionID)
}

// SupplyFailed reports a dispatch failure after payment succeeded. The
// transaction needs manual reconciliation and must not be retried.
func SupplyFailed(transactionID, reason string) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "SUPPLY_FAILED",
		Message: fmt.Sprintf("payment captured but supply failed: %s; transaction queued for reconciliation", reason),
		Status:  http.StatusBadGateway,
		Err:     ErrSupplyFailed,
	}).WithDetail("transaction_id", transactionID)
}

// StoreClosed reports an operation against a store that does not accept it in its current state.
func StoreClosed(storeID string, state StoreState) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "STORE_CLOSED",
		Message: fmt.Sprintf("store %s is %s", storeID, state),
		Status:  http.StatusConflict,
		Err:     ErrStoreClosed,
	}).WithDetail("store_id", storeID).WithDetail("state", string(state))
}

// ProductReferenced reports a removal blocked by in-flight reservations.
func ProductReferenced(storeID, productID string, outstanding int) *apperrors.AppError {
	return (&apperrors.AppError{
		Code:    "PRODUCT_REFERENCED",
		Message: fmt.Sprintf("product %s has %d outstanding reservations", productID, outstanding),
		Status:  http.StatusConflict,
		Err:     ErrProductReferenced,
	}).WithDetail("store_id", storeID).WithDetail("product_id", productID)
}

// ProductNotFound is a NotFound carrying the store scope.
func ProductNotFound(storeID, productID string) *apperrors.AppError {
	return apperrors.NotFound("product", productID).
		WithDetail("store_id", storeID).
		WithDetail("product_id", productID)
}
