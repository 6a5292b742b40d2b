package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() CreateParams {
	amount := int64(15000)
	start := time.Now().Add(24 * time.Hour).UTC()
	return CreateParams{
		BuilderID:     uuid.New(),
		SessionTypeID: uuid.New(),
		Title:         "Kitchen remodel consult",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		Timezone:      "America/Chicago",
		AmountCents:   &amount,
		Currency:      "usd",
	}
}

func TestNewBooking(t *testing.T) {
	b, err := New(validParams())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, b.ID)
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, PaymentUnpaid, b.PaymentStatus)
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, b.Priced())
}

func TestCreateParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateParams)
		wantErr error
	}{
		{"valid", func(*CreateParams) {}, nil},
		{"missing builder", func(p *CreateParams) { p.BuilderID = uuid.Nil }, ErrMissingBuilder},
		{"missing session type", func(p *CreateParams) { p.SessionTypeID = uuid.Nil }, ErrMissingSessionType},
		{"end before start", func(p *CreateParams) { p.EndTime = p.StartTime.Add(-time.Minute) }, ErrInvalidTimes},
		{"equal times", func(p *CreateParams) { p.EndTime = p.StartTime }, ErrInvalidTimes},
		{"negative amount", func(p *CreateParams) { v := int64(-1); p.AmountCents = &v }, ErrNegativeAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFacetRanks(t *testing.T) {
	assert.Less(t, StatusPending.Rank(), StatusConfirmed.Rank())
	assert.Less(t, StatusConfirmed.Rank(), StatusCanceled.Rank())
	assert.Equal(t, StatusCanceled.Rank(), StatusNoShow.Rank())

	assert.Less(t, PaymentUnpaid.Rank(), PaymentFailed.Rank())
	assert.Less(t, PaymentFailed.Rank(), PaymentPaid.Rank())
	assert.Less(t, PaymentPaid.Rank(), PaymentRefunded.Rank())

	assert.True(t, StatusCanceled.Terminal())
	assert.True(t, StatusNoShow.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.True(t, PaymentRefunded.Terminal())
	assert.False(t, PaymentPaid.Terminal())
}

func TestCloneIsDeep(t *testing.T) {
	b, err := New(validParams())
	require.NoError(t, err)

	cp := b.Clone()
	*cp.AmountCents = 99
	evt := "evt_1"
	cp.SchedulingEventID = &evt

	assert.Equal(t, int64(15000), *b.AmountCents)
	assert.Nil(t, b.SchedulingEventID)
}
