package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Каждая ошибка относится ровно к одному классу: от класса зависят HTTP/gRPC коды
// и то, остаётся ли операция в очереди.
func TestErrorClasses(t *testing.T) {
	const (
		validation = "validation"
		notFound   = "not_found"
		fatal      = "fatal"
		other      = "other"
	)
	classes := map[error]string{
		ErrCartEmpty:               validation,
		ErrCustomerNameRequired:    validation,
		ErrOrderNumberRequired:     validation,
		ErrItemsRequired:           validation,
		ErrAmountNegative:          validation,
		ErrItemQtyInvalid:          validation,
		ErrItemPriceInvalid:        validation,
		ErrAmountMismatch:          validation,
		ErrInvalidStatus:           validation,
		ErrInvalidStatusTransition: validation,
		ErrOrderDeleted:            validation,
		ErrProductNameRequired:     validation,
		ErrSessionTypeInvalid:      validation,
		ErrOrderNotFound:           notFound,
		ErrProductNotFound:         notFound,
		ErrLocalStorageUnavailable: fatal,
		ErrRemoteUnavailable:       other,
		ErrUnknownOperation:        other,
		ErrMalformedOperation:      other,
		ErrRemoteReferenceMissing:  other,
		ErrInvalidPIN:              other,
	}

	classify := func(err error) []string {
		var got []string
		if IsValidation(err) {
			got = append(got, validation)
		}
		if IsNotFound(err) {
			got = append(got, notFound)
		}
		if IsFatal(err) {
			got = append(got, fatal)
		}
		if len(got) == 0 {
			got = append(got, other)
		}
		return got
	}

	for err, want := range classes {
		t.Run(err.Error(), func(t *testing.T) {
			assert.Equal(t, []string{want}, classify(err))
			assert.Equal(t, []string{want}, classify(fmt.Errorf("drain op-1: %w", err)), "wrapped")
		})
	}
}

func TestErrorClasses_JoinedAndNil(t *testing.T) {
	joined := errors.Join(ErrRemoteUnavailable, ErrInvalidStatusTransition)
	assert.True(t, IsValidation(joined))
	assert.False(t, IsFatal(joined))

	assert.True(t, IsFatal(errors.Join(errors.New("disk full"), fmt.Errorf("put order: %w", ErrLocalStorageUnavailable))))

	assert.False(t, IsValidation(nil))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsFatal(nil))
}
