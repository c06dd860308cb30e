package deployment

import (
	"context"
	"fmt"
)

// Operation represents a single step of a transaction
type Operation struct {
	Name string
	Func func(ctx context.Context) error
}

// Compensation undoes a completed operation
type Compensation struct {
	Name string
	Func func(ctx context.Context) error
}

// Transaction applies operations in order and, when one fails, runs the
// compensations of the completed ones in reverse order.
type Transaction struct {
	ID            string
	operations    []Operation
	compensations []Compensation
}

// NewTransaction creates an empty transaction
func NewTransaction(id string) *Transaction {
	return &Transaction{ID: id}
}

// AddOperation adds an operation to the transaction with its compensation
func (tx *Transaction) AddOperation(op Operation, comp Compensation) {
	tx.operations = append(tx.operations, op)
	tx.compensations = append([]Compensation{comp}, tx.compensations...) // Prepend for LIFO order
}

// Execute runs all operations in the transaction. The returned error wraps
// the failing operation's error so its kind survives.
func (tx *Transaction) Execute(ctx context.Context) error {
	completed := 0
	for _, op := range tx.operations {
		if err := ctx.Err(); err != nil {
			return tx.rollback(ctx, completed, fmt.Errorf("transaction %s canceled: %w", tx.ID, err))
		}
		if err := op.Func(ctx); err != nil {
			return tx.rollback(ctx, completed, fmt.Errorf("%s: %w", op.Name, err))
		}
		completed++
	}
	return nil
}

func (tx *Transaction) rollback(ctx context.Context, completed int, originalErr error) error {
	// Compensations are stored newest first; the last `completed` operations
	// are at the tail of the list in reverse order.
	ctx = context.WithoutCancel(ctx)
	var rollbackErrors []error
	for _, comp := range tx.compensations[len(tx.compensations)-completed:] {
		if err := comp.Func(ctx); err != nil {
			rollbackErrors = append(rollbackErrors, fmt.Errorf("compensation %s failed: %w", comp.Name, err))
		}
	}

	if len(rollbackErrors) > 0 {
		return fmt.Errorf("%w (rollback errors: %v)", originalErr, rollbackErrors)
	}
	return originalErr
}
