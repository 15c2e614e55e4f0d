package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("Typed", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", Conflict("booking %d is %s", 7, "Ongoing"))
		assert.Equal(t, KindConflict, KindOf(err))
		assert.True(t, Is(err, KindConflict))
		assert.Equal(t, "booking 7 is Ongoing", Message(err))
	})

	t.Run("Untyped", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, KindInternal, KindOf(err))
		assert.Equal(t, "internal error", Message(err))
	})

	t.Run("Internal unwraps cause", func(t *testing.T) {
		cause := errors.New("cipher: message authentication failed")
		err := Internal(cause, "failed to decrypt license plate")
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "internal: failed to decrypt license plate")
	})
}
