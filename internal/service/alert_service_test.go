package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlertFixture(source *fakeCredits, notifier *fakeNotifier) *AlertService {
	svc := NewAlertService(testLogger(), source, notifier, NewEventGate(newFakeEvents()), 500)
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }
	return svc
}

func TestAlertOncePerDay(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newAlertFixture(&fakeCredits{configured: true, credits: 120}, notifier)

	status, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CreditsLow, status.Status)
	assert.True(t, status.Alerted)

	status, err = svc.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Alerted)
	assert.Equal(t, 1, notifier.count())

	svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	_, err = svc.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, notifier.count())
}

func TestAlertStatuses(t *testing.T) {
	cases := []struct {
		source *fakeCredits
		want   CreditLevel
	}{
		{&fakeCredits{configured: false}, CreditsUnknown},
		{&fakeCredits{configured: true, err: errors.New("401")}, CreditsUnknown},
		{&fakeCredits{configured: true, credits: 0}, CreditsDepleted},
		{&fakeCredits{configured: true, credits: 499.5}, CreditsLow},
		{&fakeCredits{configured: true, credits: 500}, CreditsOK},
	}
	for _, tc := range cases {
		notifier := &fakeNotifier{}
		status, err := newAlertFixture(tc.source, notifier).Check(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.want, status.Status)
		if tc.want == CreditsOK || tc.want == CreditsUnknown {
			assert.Zero(t, notifier.count())
		}
	}
}

func TestAlertRetriesAfterNotifyFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	svc := newAlertFixture(&fakeCredits{configured: true, credits: 1}, notifier)

	_, err := svc.Check(context.Background())
	require.Error(t, err)

	notifier.err = nil
	status, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Alerted)
	assert.Equal(t, 1, notifier.count())
}
