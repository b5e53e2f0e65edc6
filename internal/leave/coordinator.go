package leave

import (
	"context"
	"errors"
	"fmt"
)

// Coordinator is the only writer of a student's presence and pending flags.
// Every call runs inside the transaction of the request change it accompanies.
type Coordinator struct{}

// OnSubmitted marks the student pending. The write is guarded on the student
// being present with nothing pending, so concurrent submissions cannot both win.
func (Coordinator) OnSubmitted(ctx context.Context, tx Tx, studentID string) error {
	ok, err := tx.UpdateStudentFlags(ctx, studentID,
		Flags{Present: boolPtr(true), Pending: boolPtr(false)},
		Flags{Pending: boolPtr(true)})
	if err != nil {
		return fmt.Errorf("mark student pending: %w", err)
	}
	if ok {
		return nil
	}

	st, err := tx.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	switch {
	case st.IsApplicationPending:
		return AlreadyPending(studentID)
	case !st.IsPresentInCampus:
		return newError(ErrNotInCampus, "student %s is not on campus", studentID)
	}
	// The flags changed between the guarded write and the read.
	return AlreadyPending(studentID)
}

// OnFinalized clears the pending flag. An approval also marks the student away.
func (Coordinator) OnFinalized(ctx context.Context, tx Tx, studentID string, outcome Decision) error {
	patch := Flags{Pending: boolPtr(false)}
	switch outcome {
	case DecisionApproved:
		patch.Present = boolPtr(false)
	case DecisionRejected:
	default:
		return fmt.Errorf("finalize student %s: %q is not a terminal decision", studentID, outcome)
	}
	return updateFlags(ctx, tx, studentID, patch)
}

// OnCheckedIn marks the student back on campus.
func (Coordinator) OnCheckedIn(ctx context.Context, tx Tx, studentID string) error {
	return updateFlags(ctx, tx, studentID, Flags{Present: boolPtr(true)})
}

func updateFlags(ctx context.Context, tx Tx, studentID string, patch Flags) error {
	ok, err := tx.UpdateStudentFlags(ctx, studentID, Flags{}, patch)
	if err != nil {
		return fmt.Errorf("update student %s flags: %w", studentID, err)
	}
	if !ok {
		return StudentNotFound(studentID)
	}
	return nil
}

// isExpected reports whether err is a domain outcome rather than an infrastructure fault.
func isExpected(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
