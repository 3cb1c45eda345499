package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errAlreadyApproved = NewError(KindInvalidStateTransition, "ALREADY_APPROVED", "expense already approved")

func TestReclassifyKeepsSentinelMatch(t *testing.T) {
	err := Reclassify(KindProtectedResource, errAlreadyApproved, "approved expense cannot be modified")
	wrapped := fmt.Errorf("update expense 7: %w", err)

	require.ErrorIs(t, wrapped, errAlreadyApproved)
	require.Equal(t, KindProtectedResource, KindOf(wrapped))
	require.Equal(t, "ALREADY_APPROVED", CodeOf(wrapped))
}

func TestGenericNotFoundMatchesResourceSpecificErrors(t *testing.T) {
	err := NotFound("payment", 42)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "payment 42 not found", err.Error())
	require.NotErrorIs(t, errAlreadyApproved, ErrNotFound)
}

func TestWithfKeepsIdentityByCode(t *testing.T) {
	err := errAlreadyApproved.Withf("expense %d already approved", 3)
	require.ErrorIs(t, err, errAlreadyApproved)
	require.Equal(t, "expense 3 already approved", err.Error())
}

func TestKindOfUnknownErrorIsInternal(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
	require.True(t, KindConcurrentModification.Retryable())
	require.False(t, KindInvalidStateTransition.Retryable())
}

type registration struct {
	Email  string  `json:"email" validate:"required,email"`
	Phone  string  `json:"phoneNumber" validate:"omitempty,phone"`
	Amount float64 `json:"amount" validate:"gt=0"`
	Ref    string  `json:"reference" validate:"notblank"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	err := Validate(registration{Email: "nope", Phone: "12", Amount: 0, Ref: "   "})
	require.Error(t, err)
	require.Equal(t, KindValidationFailure, KindOf(err))

	var typed *Error
	require.True(t, errors.As(err, &typed))
	require.Contains(t, typed.Fields, "email")
	require.Contains(t, typed.Fields, "phoneNumber")
	require.Contains(t, typed.Fields, "amount")
	require.Contains(t, typed.Fields, "reference")

	require.NoError(t, Validate(registration{Email: "a@b.co", Phone: "+2348012345678", Amount: 1, Ref: "R1"}))
}

func TestAuditedRecordHelpers(t *testing.T) {
	var rec AuditedRecord
	now := SystemClock.Now()
	rec.Stamp("alice", now)
	require.Equal(t, "alice", rec.CreatedBy)
	require.True(t, rec.Live())

	rec.MarkDeleted("bob", now)
	require.False(t, rec.Live())
	require.Equal(t, "bob", rec.DeletedBy)
	require.Equal(t, "bob", rec.UpdatedBy)

	rec.Restore()
	require.True(t, rec.Live())
	require.Nil(t, rec.DeletedAt)
}

func TestPaginate(t *testing.T) {
	page := Paginate([]int{1, 2, 3, 4, 5}, PageRequest{Page: 2, Size: 2})
	require.Equal(t, []int{3, 4}, page.Items)
	require.Equal(t, 3, page.Pagination.TotalPages)
	require.True(t, page.Pagination.HasNext)

	empty := Paginate([]int{1}, PageRequest{Page: 9, Size: 2})
	require.Empty(t, empty.Items)
	require.NotNil(t, empty.Items)
}
