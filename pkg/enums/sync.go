package enums

import (
	"fmt"
	"strings"
)

// OperationType is the kind of local mutation captured in the outbox.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

var validOperationTypes = []OperationType{
	OperationCreate,
	OperationUpdate,
	OperationDelete,
}

// IsValid reports whether the value is a known operation type.
func (o OperationType) IsValid() bool {
	for _, candidate := range validOperationTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ChangeType maps the local operation onto the wire vocabulary.
func (o OperationType) ChangeType() ChangeType {
	if o == OperationDelete {
		return ChangeDelete
	}
	return ChangeUpsert
}

// ParseOperationType converts raw input into OperationType.
func ParseOperationType(value string) (OperationType, error) {
	for _, candidate := range validOperationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operation type %q", value)
}

// OutboxStatus tracks delivery progress of an outbox record. Accepted records are deleted, not marked.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusPushing OutboxStatus = "pushing"
	OutboxStatusFailed  OutboxStatus = "failed"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusPushing,
	OutboxStatusFailed,
}

// IsValid reports whether the value is a known outbox status.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Pushable reports whether a record in this status is eligible for the next push.
func (s OutboxStatus) Pushable() bool {
	return s == OutboxStatusPending || s == OutboxStatusFailed
}

// ParseOutboxStatus converts raw input into OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	for _, candidate := range validOutboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox status %q", value)
}

// ChangeType is the wire-level mutation kind exchanged with the sync server.
type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

// IsDelete reports whether the change removes the entity. Unknown values are treated as upserts.
func (c ChangeType) IsDelete() bool {
	return strings.EqualFold(string(c), string(ChangeDelete))
}
