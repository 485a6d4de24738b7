package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

func TestResolveEligibility(t *testing.T) {
	now := t0
	class := model.Class{ID: 1, ClassTypeID: yoga, Capacity: 2, Status: model.ClassScheduled, StartsAt: now.Add(48 * time.Hour)}
	soon := now.Add(10 * 24 * time.Hour)
	later := now.Add(30 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	generic := model.Package{ID: 1, ClassTypeID: nil, TotalCredits: 5, PurchasedAt: now.Add(-72 * time.Hour), ExpiresAt: &soon}
	yogaLate := model.Package{ID: 2, ClassTypeID: ptr(yoga), TotalCredits: 5, PurchasedAt: now.Add(-48 * time.Hour), ExpiresAt: &later}
	yogaSoon := model.Package{ID: 3, ClassTypeID: ptr(yoga), TotalCredits: 5, PurchasedAt: now.Add(-24 * time.Hour), ExpiresAt: &soon}
	yogaForever := model.Package{ID: 4, ClassTypeID: ptr(yoga), TotalCredits: 5, PurchasedAt: now.Add(-96 * time.Hour)}
	yogaOld := model.Package{ID: 5, ClassTypeID: ptr(yoga), TotalCredits: 5, PurchasedAt: now.Add(-240 * time.Hour), ExpiresAt: &soon}
	pilatesOnly := model.Package{ID: 6, ClassTypeID: ptr(pilates), TotalCredits: 5}
	usedUp := model.Package{ID: 7, TotalCredits: 2, UsedCredits: 2}
	expired := model.Package{ID: 8, TotalCredits: 2, ExpiresAt: &past}
	cancelled := model.Package{ID: 9, TotalCredits: 2, Status: model.PackageCancelled}

	tests := []struct {
		name      string
		pkgs      []model.Package
		booked    int
		want      booking.EligibilityStatus
		wantOrder []uint64
		wantFull  bool
	}{
		{"no packages", nil, 0, booking.NoPackage, []uint64{}, false},
		{"only cancelled", []model.Package{cancelled}, 0, booking.NoPackage, []uint64{}, false},
		{"wrong type", []model.Package{pilatesOnly}, 0, booking.WrongType, []uint64{}, false},
		{"no credits", []model.Package{usedUp, expired, pilatesOnly}, 1, booking.NoCredits, []uint64{}, false},
		{
			"ordering",
			[]model.Package{generic, yogaForever, yogaLate, yogaSoon, yogaOld, usedUp},
			2,
			booking.Eligible,
			[]uint64{5, 3, 2, 4, 1},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := booking.ResolveEligibility(tt.pkgs, class, tt.booked, now)
			assert.Equal(t, tt.want, got.Status)
			ids := []uint64{}
			for _, p := range got.Packages {
				ids = append(ids, p.ID)
				assert.Equal(t, model.PackageActive, p.Status)
			}
			assert.Equal(t, tt.wantOrder, ids)
			assert.Equal(t, tt.wantFull, got.ClassFull)
			assert.True(t, got.Bookable)
		})
	}
}

func TestGetEligibilityIsReadOnly(t *testing.T) {
	f := setup(t)
	class := f.class(1, 72*time.Hour, yoga)
	p := f.pkg(t, 10, 2, ptr(yoga), 0)

	res, err := f.engine.GetEligibility(context.Background(), 10, class.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.Eligible, res.Status)
	require.Len(t, res.Packages, 1)
	assert.Equal(t, p.ID, res.Packages[0].ID)
	assert.Equal(t, 1, res.SeatsLeft)
	assert.Equal(t, 0, f.reloadPkg(t, p.ID).UsedCredits)
}
